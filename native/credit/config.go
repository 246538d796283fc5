package credit

import (
	"errors"
	"fmt"

	nativecommon "rwacredit/native/common"
)

// RiskParameters groups the governance controlled limits applied to lending.
type RiskParameters struct {
	// RWAMaxLTVBps caps principal against collateral value for RWA positions.
	RWAMaxLTVBps uint64 `toml:"RWAMaxLTVBps" yaml:"rwaMaxLtvBps"`
	// PrivateAssetMaxLTVBps caps principal for private-asset positions.
	PrivateAssetMaxLTVBps uint64 `toml:"PrivateAssetMaxLTVBps" yaml:"privateAssetMaxLtvBps"`
	// InterestRateBps is the fixed simple annual rate charged on principal.
	InterestRateBps uint64 `toml:"InterestRateBps" yaml:"interestRateBps"`
	// MissedPaymentThreshold is the count of missed installments that
	// defaults a plan.
	MissedPaymentThreshold uint64 `toml:"MissedPaymentThreshold" yaml:"missedPaymentThreshold"`
}

// DefaultRiskParameters mirrors the production launch values.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		RWAMaxLTVBps:           7_000,
		PrivateAssetMaxLTVBps:  5_000,
		InterestRateBps:        800,
		MissedPaymentThreshold: 3,
	}
}

// Validate ensures the parameters are internally consistent.
func (p RiskParameters) Validate() error {
	var errs []error
	if p.RWAMaxLTVBps == 0 || p.RWAMaxLTVBps > nativecommon.BasisPoints {
		errs = append(errs, fmt.Errorf("RWAMaxLTVBps must be within (0, %d]", nativecommon.BasisPoints))
	}
	if p.PrivateAssetMaxLTVBps == 0 || p.PrivateAssetMaxLTVBps > nativecommon.BasisPoints {
		errs = append(errs, fmt.Errorf("PrivateAssetMaxLTVBps must be within (0, %d]", nativecommon.BasisPoints))
	}
	if p.InterestRateBps > nativecommon.BasisPoints {
		errs = append(errs, fmt.Errorf("InterestRateBps must not exceed %d", nativecommon.BasisPoints))
	}
	if p.MissedPaymentThreshold == 0 {
		errs = append(errs, errors.New("MissedPaymentThreshold must be positive"))
	}
	return errors.Join(errs...)
}

// MaxLTV returns the loan-to-value cap for the token type in basis points.
func (p RiskParameters) MaxLTV(tokenType TokenType) uint64 {
	switch tokenType {
	case TokenTypeRWA:
		return p.RWAMaxLTVBps
	case TokenTypePrivateAsset:
		return p.PrivateAssetMaxLTVBps
	default:
		return 0
	}
}
