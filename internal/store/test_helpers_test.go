package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/report"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// approvedVerdict creates an approved verdict with typical facts.
func approvedVerdict(orderID string, seq int64) *engine.Verdict {
	return &engine.Verdict{
		OrderID:       orderID,
		Context:       []engine.Field{{Key: "file", Value: "batch.csv"}, {Key: "row_number", Value: 2}},
		OrderStatus:   "ERROR",
		ArticleID:     "PD100",
		PaymentMethod: "Credit Card",
		TotalCharged:  json.Number("0.00"),
		RevenueModel:  "OA",
		HasError:      true,
		ErrorCode:     "E200",
		CanResend:     true,
		Reason:        "OA + Credit Card (regardless of totalChargedAmount)",
		Step:          engine.StepRevenueModel,
		Outcome:       engine.OutcomeApproved,
		Seq:           seq,
	}
}

// deniedVerdict creates a denied verdict.
func deniedVerdict(orderID string, seq int64) *engine.Verdict {
	return &engine.Verdict{
		OrderID:     orderID,
		OrderStatus: "OrderCanceledInAMP",
		Reason:      "Order canceled (OrderCanceledInAMP)",
		Step:        engine.StepCanceled,
		Outcome:     engine.OutcomeDenied,
		Seq:         seq,
	}
}

func recordsOf(verdicts ...*engine.Verdict) []report.Record {
	return report.Records(verdicts)
}
