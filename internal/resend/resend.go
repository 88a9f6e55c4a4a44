// Package resend submits approved orders to the downstream resend endpoint.
//
// Requests are sent one at a time, in the order given. Delivery is
// best-effort: a failure is recorded against its order and the remaining
// orders are still sent. Nothing is retried here beyond what the gateway
// itself does.
package resend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/gateway"
	"github.com/roach88/resendgate/internal/report"
)

// Submitter is the part of the gateway the sender needs.
type Submitter interface {
	SubmitResend(ctx context.Context, orderID string) error
}

// Result is the outcome of one resend request.
type Result struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the resend succeeded.
func (r Result) OK() bool {
	return r.Status == report.ResendSuccess
}

// Sender sends resend requests and reports progress.
type Sender struct {
	sub      Submitter
	log      *zap.Logger
	progress io.Writer
}

// NewSender builds a sender. progress receives one line per order and may
// be nil.
func NewSender(sub Submitter, log *zap.Logger, progress io.Writer) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Sender{sub: sub, log: log.Named("resend"), progress: progress}
}

// Send submits every order id and returns one result per id, in order.
func (s *Sender) Send(ctx context.Context, orderIDs []string) []Result {
	s.log.Info("starting resend", zap.Int("orders", len(orderIDs)))
	results := make([]Result, 0, len(orderIDs))
	for i, id := range orderIDs {
		fmt.Fprintf(s.progress, "[%d/%d] %s\n", i+1, len(orderIDs), id)

		err := s.sub.SubmitResend(ctx, id)
		if err == nil {
			s.log.Info("resend successful", zap.String("order_id", id))
			fmt.Fprintln(s.progress, "   Success")
			results = append(results, Result{OrderID: id, Status: report.ResendSuccess})
			continue
		}

		detail := err.Error()
		var re *gateway.ResendError
		if errors.As(err, &re) {
			detail = re.Detail
		}
		s.log.Error("resend failed", zap.String("order_id", id), zap.String("detail", detail))
		fmt.Fprintf(s.progress, "   Failed: %s\n", detail)
		results = append(results, Result{OrderID: id, Status: report.ResendFailed, Error: detail})
	}
	return results
}

// Apply records resend outcomes on the matching result records.
func Apply(records []report.Record, results []Result) {
	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.OrderID] = r
	}
	for i := range records {
		if r, ok := byID[records[i].Verdict.OrderID]; ok {
			records[i].ResendStatus = r.Status
			records[i].ResendError = r.Error
		}
	}
}

// WriteSummary renders the success and failure counts, listing failures.
func WriteSummary(w io.Writer, results []Result) error {
	var ok int
	var failed []Result
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			failed = append(failed, r)
		}
	}

	if _, err := fmt.Fprintf(w, "Successes: %d/%d\n", ok, len(results)); err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}
	fmt.Fprintf(w, "Failures: %d/%d\n", len(failed), len(results))
	for _, r := range failed {
		fmt.Fprintf(w, "  - %s: %s\n", r.OrderID, r.Error)
	}
	return nil
}
