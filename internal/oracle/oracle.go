package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"survivald/internal/model"
)

// A reading failing these bounds is treated as a transient I/O failure:
// surfaced as an error and retried next tick, never folded into a Balance.
const (
	maxPrimaryPriceUSD = 1e9
	maxQuoteAge        = 10 * time.Minute
)

// Holdings is the raw ledger reading before normalization. QuotedAt is the
// price quote time; zero means the ledger doesn't report one.
type Holdings struct {
	PrimaryAmount   float64
	StableAmount    float64
	PrimaryPriceUSD float64
	QuotedAt        time.Time
}

// LedgerClient reads holdings from and submits transfers to the external
// ledger. Failures are surfaced as ordinary errors, never panics.
type LedgerClient interface {
	GetHoldings(ctx context.Context) (Holdings, error)
	Transfer(ctx context.Context, amountUSD float64, destination string) (receiptID string, err error)
	Name() string
}

// CreditReader reads the operational credit balance from the separate
// account system, once per tick.
type CreditReader interface {
	GetCredit(ctx context.Context) (float64, error)
}

// Oracle normalizes ledger holdings into a single Balance valuation.
type Oracle struct {
	Ledger LedgerClient
	Credit CreditReader
}

// NewOracle creates a new Oracle.
func NewOracle(ledger LedgerClient, credit CreditReader) *Oracle {
	return &Oracle{Ledger: ledger, Credit: credit}
}

// Observe fetches holdings and credit and produces a fresh Balance snapshot.
func (o *Oracle) Observe(ctx context.Context) (model.Balance, float64, error) {
	h, err := o.Ledger.GetHoldings(ctx)
	if err != nil {
		return model.Balance{}, 0, fmt.Errorf("fetch holdings: %w", err)
	}
	if h.PrimaryAmount < 0 || h.StableAmount < 0 {
		return model.Balance{}, 0, fmt.Errorf("ledger reported negative holdings (primary=%f stable=%f)", h.PrimaryAmount, h.StableAmount)
	}
	if h.PrimaryAmount > 0 {
		// A bad quote would silently collapse the valuation and flip the
		// survival tier, so it is rejected like any other failed read.
		if h.PrimaryPriceUSD <= 0 {
			return model.Balance{}, 0, fmt.Errorf("ledger reported non-positive primary price %f with non-zero holdings", h.PrimaryPriceUSD)
		}
		if h.PrimaryPriceUSD > maxPrimaryPriceUSD {
			return model.Balance{}, 0, fmt.Errorf("ledger reported implausible primary price %f", h.PrimaryPriceUSD)
		}
		if !h.QuotedAt.IsZero() && time.Since(h.QuotedAt) > maxQuoteAge {
			return model.Balance{}, 0, fmt.Errorf("ledger price quote is stale (%s old)", time.Since(h.QuotedAt).Round(time.Second))
		}
	}
	credit, err := o.Credit.GetCredit(ctx)
	if err != nil {
		return model.Balance{}, 0, fmt.Errorf("fetch credit: %w", err)
	}
	b := model.Balance{
		PrimaryAssetAmount: h.PrimaryAmount,
		StableAssetAmount:  h.StableAmount,
		TotalValueUSD:      h.PrimaryAmount*h.PrimaryPriceUSD + h.StableAmount,
		ObservedAt:         time.Now(),
	}
	return b, credit, nil
}

// MockLedger returns controllable fixed data for development and testing.
type MockLedger struct {
	mu          sync.Mutex
	HoldingsVal Holdings
	HoldingsErr error
	TransferErr error
	Transfers   []float64
}

func (m *MockLedger) Name() string { return "mock" }

func (m *MockLedger) GetHoldings(_ context.Context) (Holdings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HoldingsErr != nil {
		return Holdings{}, m.HoldingsErr
	}
	return m.HoldingsVal, nil
}

func (m *MockLedger) Transfer(_ context.Context, amountUSD float64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransferErr != nil {
		return "", m.TransferErr
	}
	m.Transfers = append(m.Transfers, amountUSD)
	return fmt.Sprintf("mock-receipt-%d", len(m.Transfers)), nil
}

// MockCredit is a fixed credit reading for tests.
type MockCredit struct {
	CreditVal float64
	CreditErr error
}

func (m *MockCredit) GetCredit(_ context.Context) (float64, error) {
	if m.CreditErr != nil {
		return 0, m.CreditErr
	}
	return m.CreditVal, nil
}
