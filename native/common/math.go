package common

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for ratios expressed in bps.
const BasisPoints = 10_000

// WadScale is the 1e18 scale used for per-token rates.
var WadScale = big.NewInt(1_000_000_000_000_000_000)

var (
	ErrNegativeAmount  = errors.New("fixedpoint: negative operand")
	ErrZeroDenominator = errors.New("fixedpoint: zero denominator")
	ErrOverflow        = errors.New("fixedpoint: overflow")
)

// MulDivFloor returns floor(a*b/d).
func MulDivFloor(a, b, d *big.Int) (*big.Int, error) {
	x, y, z, err := toUint256(a, b, d)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// MulDivCeil returns ceil(a*b/d).
func MulDivCeil(a, b, d *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return MulDivFloor(a, b, d)
	}
	x, y, z, err := toUint256(a, b, d)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	rem := new(big.Int).Mul(a, b)
	rem.Rem(rem, d)
	if rem.Sign() != 0 {
		if out.Eq(maxUint256) {
			return nil, ErrOverflow
		}
		out.AddUint64(out, 1)
	}
	return out.ToBig(), nil
}

// BpsOf returns floor(amount*bps/10_000).
func BpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return MulDivFloor(amount, new(big.Int).SetUint64(bps), big.NewInt(BasisPoints))
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// IsPositive reports whether v is non-nil and strictly greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

var maxUint256 = new(uint256.Int).SetAllOne()

func toUint256(a, b, d *big.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	if d == nil || d.Sign() == 0 {
		return nil, nil, nil, ErrZeroDenominator
	}
	if a.Sign() < 0 || b.Sign() < 0 || d.Sign() < 0 {
		return nil, nil, nil, ErrNegativeAmount
	}
	x, overflow := uint256.FromBig(a)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	y, overflow := uint256.FromBig(b)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	z, overflow := uint256.FromBig(d)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	return x, y, z, nil
}
