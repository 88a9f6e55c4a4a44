package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/gateway"
	"github.com/roach88/resendgate/internal/report"
	"github.com/roach88/resendgate/internal/resend"
	"github.com/roach88/resendgate/internal/store"
)

// epoch is the fixed start time of the first run of every scenario.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness runs scenarios against fixture gateways with deterministic run
// ids and timestamps.
type Harness struct {
	store *store.Store
	ids   engine.RunIDGenerator
	log   *zap.Logger
	runs  int
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes evaluation logs to log.
func WithLogger(log *zap.Logger) Option {
	return func(h *Harness) {
		if log != nil {
			h.log = log
		}
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory run store.
//
// Execution flow:
// 1. Evaluate the orders against the snapshot
// 2. Resend approved orders when the scenario asks for it
// 3. Record the run in the store
// 4. Check verdict expectations, then assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		ids:   engine.NewFixedGenerator("run-1", "run-2"),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx := context.Background()
	gw := gateway.NewFixtureGateway(&scenario.Snapshot)

	result := NewResult()
	runID, err := h.execute(ctx, scenario, gw, result)
	if err != nil {
		return nil, err
	}

	for _, e := range scenario.Expect {
		if err := checkVerdict(result.Verdict(e.Order), e); err != nil {
			result.AddError(err.Error())
		}
	}

	actx := &AssertionContext{Harness: h, Scenario: scenario, Gateway: gw, RunID: runID, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute evaluates the scenario once, resends if asked, and records the
// run. It returns the run id.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, gw *gateway.FixtureGateway, result *Result) (string, error) {
	result.Verdicts = h.evaluate(ctx, scenario, gw)
	result.Summary = report.Summarize(result.Verdicts)

	if scenario.Resend {
		var ids []string
		for _, v := range report.Approved(result.Verdicts) {
			ids = append(ids, v.OrderID)
		}
		result.Resends = resend.NewSender(gw, h.log, io.Discard).Send(ctx, ids)
	}
	return h.record(ctx, result.Summary, result.Records())
}

// evaluate runs the batch and returns verdicts in the scenario's order.
func (h *Harness) evaluate(ctx context.Context, scenario *Scenario, gw gateway.Gateway) []*engine.Verdict {
	workers := scenario.Workers
	if workers == 0 {
		workers = 1
	}

	jobs := make([]engine.Job, len(scenario.Orders))
	for i, id := range scenario.Orders {
		jobs[i] = engine.Job{OrderID: id}
	}

	eval := engine.NewEvaluator(gw, engine.WithLogger(h.log))
	batch := engine.NewBatch(eval, engine.WithWorkers(workers), engine.WithBatchLogger(h.log))
	return engine.InJobOrder(jobs, batch.Run(ctx, jobs))
}

func (h *Harness) record(ctx context.Context, summary report.Summary, records []report.Record) (string, error) {
	run := store.Run{
		ID:        h.ids.Generate(),
		StartedAt: epoch.Add(time.Duration(h.runs) * time.Minute),
		Source:    "scenario",
		Summary:   summary,
	}
	h.runs++
	if err := h.store.SaveRun(ctx, run, records); err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return run.ID, nil
}

// checkVerdict compares one verdict against its expectation.
func checkVerdict(v *engine.Verdict, e VerdictExpect) error {
	if v == nil {
		return fmt.Errorf("order %s: no verdict", e.Order)
	}
	if string(v.Outcome) != e.Outcome {
		return fmt.Errorf("order %s: outcome = %q, want %q (reason %q)", e.Order, v.Outcome, e.Outcome, v.Reason)
	}
	if e.Step != "" && string(v.Step) != e.Step {
		return fmt.Errorf("order %s: step = %q, want %q", e.Order, v.Step, e.Step)
	}
	if e.Reason != "" && v.Reason != e.Reason {
		return fmt.Errorf("order %s: reason = %q, want %q", e.Order, v.Reason, e.Reason)
	}
	if e.ReasonContains != "" && !strings.Contains(v.Reason, e.ReasonContains) {
		return fmt.Errorf("order %s: reason %q does not contain %q", e.Order, v.Reason, e.ReasonContains)
	}
	if len(e.Fields) == 0 {
		return nil
	}

	actual, err := verdictFields(v)
	if err != nil {
		return fmt.Errorf("order %s: %w", e.Order, err)
	}
	for key, want := range e.Fields {
		got, ok := actual[key]
		if !ok {
			if isZero(want) {
				continue
			}
			return fmt.Errorf("order %s: field %s missing, want %v", e.Order, key, want)
		}
		if !valuesEqual(got, want) {
			return fmt.Errorf("order %s: field %s = %v, want %v", e.Order, key, got, want)
		}
	}
	return nil
}

// verdictFields decodes a verdict's JSON form, keeping numbers as written.
func verdictFields(v *engine.Verdict) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
