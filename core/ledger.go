package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rwacredit/core/events"
	"rwacredit/core/types"
	"rwacredit/native/bank"
	nativecommon "rwacredit/native/common"
	"rwacredit/native/compliance"
	"rwacredit/native/credit"
	"rwacredit/native/yield"
	"rwacredit/observability"
	telemetry "rwacredit/observability/otel"
	"rwacredit/state"
)

// ModuleAddress derives the deterministic account owned by a module.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("rwacredit/module/" + name))[12:])
}

var (
	// CustodyAccount holds pledged collateral and settlement proceeds in
	// flight.
	CustodyAccount = ModuleAddress("credit/custody")
	// PoolVaultAccount holds lender liquidity.
	PoolVaultAccount = ModuleAddress("credit/pool")
	// YieldVaultAccount holds recorded settlements until they are claimed.
	YieldVaultAccount = ModuleAddress("yield/vault")

	errNilStore = errors.New("ledger: store required")
)

// Config parameterises the engines bound to every transaction.
type Config struct {
	USDAsset              string
	Risk                  credit.RiskParameters
	DistributionBatchSize int
}

// Validate ensures the configuration can drive the engines.
func (c Config) Validate() error {
	if bank.NormalizeAsset(c.USDAsset) == "" {
		return fmt.Errorf("ledger: USD asset required")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("ledger: risk parameters: %w", err)
	}
	return nil
}

// Tx bundles the engines bound to one store transaction.
type Tx struct {
	State  *state.Manager
	Bank   *bank.Bank
	Gate   *compliance.Gate
	Credit *credit.Engine
	Yield  *yield.Engine
}

// Receipt describes a committed operation.
type Receipt struct {
	TxRef       string         `json:"txRef"`
	Operation   string         `json:"operation"`
	CommittedAt time.Time      `json:"committedAt"`
	Events      []*types.Event `json:"events"`
}

// Ledger is the single serialized entry point for state mutations. Every
// operation runs in one store transaction; events are stamped and published
// only after the transaction commits.
type Ledger struct {
	store     *state.Store
	cfg       Config
	pauses    *nativecommon.Pauses
	publisher events.Emitter
	tracer    trace.Tracer
	nowFn     func() time.Time

	// mu keeps publish order identical to commit order.
	mu sync.Mutex
}

// NewLedger constructs a ledger over an opened store.
func NewLedger(store *state.Store, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, errNilStore
	}
	cfg.USDAsset = bank.NormalizeAsset(cfg.USDAsset)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DistributionBatchSize <= 0 {
		cfg.DistributionBatchSize = yield.DefaultBatchSize
	}
	return &Ledger{
		store:     store,
		cfg:       cfg,
		pauses:    nativecommon.NewPauses(),
		publisher: events.NoopEmitter{},
		tracer:    telemetry.Tracer("rwacredit/core"),
		nowFn:     time.Now,
	}, nil
}

// SetPublisher configures where committed events are delivered.
func (l *Ledger) SetPublisher(p events.Emitter) {
	if p == nil {
		p = events.NoopEmitter{}
	}
	l.publisher = p
}

// SetNowFunc overrides the ledger clock.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

// Pauses exposes the module pause switches.
func (l *Ledger) Pauses() *nativecommon.Pauses { return l.pauses }

// Config returns the ledger configuration.
func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) bind(m *state.Manager, emitter events.Emitter, now uint64) *Tx {
	clock := func() uint64 { return now }

	gate := compliance.NewGate(CustodyAccount, PoolVaultAccount, YieldVaultAccount)
	gate.SetState(m)
	gate.SetEmitter(emitter)

	ledgerBank := bank.New(l.cfg.USDAsset)
	ledgerBank.SetState(m)
	ledgerBank.SetPauses(l.pauses)
	ledgerBank.SetEmitter(emitter)

	yieldEngine := yield.NewEngine(YieldVaultAccount)
	yieldEngine.SetState(m)
	yieldEngine.SetBank(ledgerBank)
	yieldEngine.SetEligibility(gate)
	yieldEngine.SetPauses(l.pauses)
	yieldEngine.SetBatchSize(l.cfg.DistributionBatchSize)
	yieldEngine.SetNowFunc(clock)
	yieldEngine.SetEmitter(emitter)
	ledgerBank.SetObserver(yieldEngine)

	creditEngine := credit.NewEngine(CustodyAccount, PoolVaultAccount, l.cfg.Risk)
	creditEngine.SetState(m)
	creditEngine.SetBank(ledgerBank)
	creditEngine.SetEligibility(gate)
	creditEngine.SetYield(yieldEngine)
	creditEngine.SetPauses(l.pauses)
	creditEngine.SetNowFunc(clock)
	creditEngine.SetEmitter(emitter)

	return &Tx{State: m, Bank: ledgerBank, Gate: gate, Credit: creditEngine, Yield: yieldEngine}
}

// Execute runs fn inside one read-write transaction. Any error rolls back
// every write fn made and no events are published.
func (l *Ledger) Execute(ctx context.Context, operation string, fn func(*Tx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := l.tracer.Start(ctx, "ledger."+operation)
	defer span.End()
	started := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	buf := &events.Buffer{}
	var (
		pool     *credit.Pool
		firstSeq uint64
	)
	err := l.store.Update(func(m *state.Manager) error {
		tx := l.bind(m, buf, uint64(now.Unix()))
		if err := fn(tx); err != nil {
			return err
		}
		snapshot, err := tx.Credit.GetPool()
		if err != nil {
			return err
		}
		pool = snapshot
		firstSeq, err = m.ReserveEventSequence(uint64(len(buf.Events())))
		return err
	})
	metrics := observability.Ledger()
	if err != nil {
		metrics.Observe(operation, string(credit.Classify(err)), time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	receipt := &Receipt{TxRef: uuid.NewString(), Operation: operation, CommittedAt: now}
	for i, evt := range buf.Events() {
		payload := evt.Event().Clone()
		payload.TxRef = receipt.TxRef
		payload.Sequence = firstSeq + uint64(i)
		payload.Timestamp = uint64(now.Unix())
		receipt.Events = append(receipt.Events, payload)
	}
	for _, payload := range receipt.Events {
		l.publisher.Emit(events.Committed{Payload: payload})
		if payload.Type == yield.EventTypeClaimed {
			metrics.RecordClaim(payload.Attr("asset"))
		}
	}
	metrics.Observe(operation, "", time.Since(started))
	metrics.SetPool(pool.TotalLiquidity, pool.TotalBorrowed)
	span.SetAttributes(
		attribute.String("ledger.tx_ref", receipt.TxRef),
		attribute.Int("ledger.events", len(receipt.Events)),
	)
	return receipt, nil
}

// Query runs fn inside a read-only transaction. Engines bound to a query
// reject writes.
func (l *Ledger) Query(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := uint64(l.nowFn().Unix())
	return l.store.View(func(m *state.Manager) error {
		return fn(l.bind(m, events.NoopEmitter{}, now))
	})
}

// TokenDays returns the whole token-days addr has accumulated on asset as
// beneficial holder, collateral in custody included.
func (l *Ledger) TokenDays(ctx context.Context, addr common.Address, asset string) (*big.Int, error) {
	var out *big.Int
	err := l.Query(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Yield.HoldingTokenDays(asset, addr)
		return err
	})
	return out, err
}

// BalanceOf returns the raw balance of asset held by addr.
func (l *Ledger) BalanceOf(ctx context.Context, addr common.Address, asset string) (*big.Int, error) {
	var out *big.Int
	err := l.Query(ctx, func(tx *Tx) error {
		bal, err := tx.Bank.Balance(addr, asset)
		out = bal
		return err
	})
	return out, err
}
