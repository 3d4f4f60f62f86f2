package quota

import (
	"context"
	"time"
)

// ModelCallGate debits one generation-call unit per model per call,
// each model under its own independent daily cap.
type ModelCallGate struct {
	ledger *Ledger
	limit  int // per-model daily call cap
	now    func() time.Time
}

// NewModelCallGate constructs a gate. nowFn may be nil.
func NewModelCallGate(ledger *Ledger, limit int, nowFn func() time.Time) *ModelCallGate {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ModelCallGate{ledger: ledger, limit: limit, now: nowFn}
}

// Debit consumes one call for model, returning ErrExhausted once the
// model's cap is spent for the day.
func (g *ModelCallGate) Debit(ctx context.Context, model string) error {
	day := g.now()
	kind := ModelKind(model)
	if _, err := g.ledger.Ensure(ctx, day, kind, g.limit); err != nil {
		return err
	}
	return g.ledger.Debit(ctx, day, kind, 1)
}
