package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 10

// OrderEvaluator evaluates a single job. *Evaluator satisfies it.
type OrderEvaluator interface {
	Evaluate(ctx context.Context, job Job) *Verdict
}

// Batch runs an OrderEvaluator over many jobs with bounded concurrency.
type Batch struct {
	eval     OrderEvaluator
	workers  int
	log      *zap.Logger
	onResult func(*Verdict)
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithWorkers bounds the number of concurrent evaluations.
func WithWorkers(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBatchLogger sets the batch logger.
func WithBatchLogger(log *zap.Logger) BatchOption {
	return func(b *Batch) {
		if log != nil {
			b.log = log
		}
	}
}

// WithResultHook registers fn to observe each verdict as it completes.
// fn runs on the collector goroutine, one verdict at a time.
func WithResultHook(fn func(*Verdict)) BatchOption {
	return func(b *Batch) {
		b.onResult = fn
	}
}

// NewBatch builds a batch runner.
func NewBatch(eval OrderEvaluator, opts ...BatchOption) *Batch {
	b := &Batch{eval: eval, workers: DefaultWorkers, log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run evaluates every job and returns one verdict per job, in completion
// order. A panic in one evaluation becomes a fault verdict for that job;
// the remaining jobs still run. Run does not abort on context cancellation:
// pending evaluations see the canceled context through their gateway calls
// and degrade to query failures.
func (b *Batch) Run(ctx context.Context, jobs []Job) []*Verdict {
	results := make(chan *Verdict)
	clock := NewClock()

	var g errgroup.Group
	g.SetLimit(b.workers)

	go func() {
		for _, job := range jobs {
			g.Go(func() error {
				results <- b.evaluate(ctx, job)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	verdicts := make([]*Verdict, 0, len(jobs))
	for v := range results {
		clock.Stamp(v)
		verdicts = append(verdicts, v)
		if b.onResult != nil {
			b.onResult(v)
		}
	}
	b.log.Info("batch complete",
		zap.Int("orders", len(verdicts)),
		zap.Int("workers", b.workers))
	return verdicts
}

// evaluate runs one job, converting a panic into a fault verdict.
func (b *Batch) evaluate(ctx context.Context, job Job) (v *Verdict) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("evaluation panicked",
				zap.String("order_id", job.OrderID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			v = &Verdict{OrderID: job.OrderID, Context: job.Context}
			v.fault(fmt.Sprint(r))
		}
	}()

	v = b.eval.Evaluate(ctx, job)
	if v == nil {
		v = &Verdict{OrderID: job.OrderID, Context: job.Context}
		v.fault("evaluator returned no verdict")
	}
	return v
}

// InJobOrder rearranges verdicts returned by Run into the order of jobs.
// Repeated order ids are matched first come, first served.
func InJobOrder(jobs []Job, verdicts []*Verdict) []*Verdict {
	slots := make(map[string][]int, len(jobs))
	for i, job := range jobs {
		slots[job.OrderID] = append(slots[job.OrderID], i)
	}

	ordered := make([]*Verdict, len(jobs))
	for _, v := range verdicts {
		free := slots[v.OrderID]
		if len(free) == 0 {
			continue
		}
		ordered[free[0]] = v
		slots[v.OrderID] = free[1:]
	}
	return ordered
}
