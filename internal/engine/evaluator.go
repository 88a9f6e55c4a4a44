package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/gateway"
	"github.com/roach88/resendgate/internal/order"
)

// Continuation tells the evaluator whether a guard reached a decision.
type Continuation int

const (
	// Continue passes the order to the next guard.
	Continue Continuation = iota

	// Halt ends evaluation; the verdict is final.
	Halt
)

// guard is one stage of the decision hierarchy.
type guard func(ctx context.Context, ev *evaluation) Continuation

// evaluation is the state of one order while guards run over it. It is
// owned by a single worker.
type evaluation struct {
	order   *order.Order
	verdict *Verdict
	log     *zap.Logger
}

// Evaluator applies the decision hierarchy to one order at a time. It holds
// no per-order state and may be shared by many workers.
type Evaluator struct {
	gw  gateway.Gateway
	log *zap.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEvaluator builds an evaluator over gw.
func NewEvaluator(gw gateway.Gateway, opts ...Option) *Evaluator {
	e := &Evaluator{gw: gw, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) guards() []guard {
	return []guard{
		e.fetchOrder,
		e.checkCanceled,
		e.checkErrors,
		e.checkRevenueModel,
	}
}

// Evaluate runs every guard in order until one halts and returns the
// resulting verdict. It never returns nil.
func (e *Evaluator) Evaluate(ctx context.Context, job Job) *Verdict {
	ev := &evaluation{
		verdict: &Verdict{OrderID: job.OrderID, Context: job.Context},
		log:     e.log.With(zap.String("order_id", job.OrderID)),
	}
	ev.log.Debug("validating order")

	for _, g := range e.guards() {
		if g(ctx, ev) == Halt {
			e.logVerdict(ev)
			return ev.verdict
		}
	}

	// checkRevenueModel always halts.
	ev.verdict.fault("evaluation ended without a decision")
	e.logVerdict(ev)
	return ev.verdict
}

func (e *Evaluator) logVerdict(ev *evaluation) {
	v := ev.verdict
	fields := []zap.Field{
		zap.String("step", string(v.Step)),
		zap.String("reason", v.Reason),
	}
	switch v.Outcome {
	case OutcomeApproved:
		ev.log.Info("approved", fields...)
	case OutcomeDenied:
		ev.log.Warn("blocked", fields...)
	default:
		ev.log.Error(string(v.Outcome), append(fields, zap.String("error", v.Error))...)
	}
}
