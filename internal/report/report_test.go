package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resendgate/internal/engine"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func sampleVerdicts() []*engine.Verdict {
	memo := true
	return []*engine.Verdict{
		{
			OrderID:       "1001",
			Context:       []engine.Field{{Key: "file", Value: "a.csv"}, {Key: "row_number", Value: 2}},
			OrderStatus:   "OrderCompleted",
			PaymentMethod: "CreditCard",
			TotalCharged:  "25.00",
			RevenueModel:  "OO",
			CanResend:     true,
			Reason:        "OO with totalChargedAmount > 0 ($25.00)",
			Step:          engine.StepRevenueModel,
			Outcome:       engine.OutcomeApproved,
		},
		{
			OrderID:                    "1002",
			OrderStatus:                "OrderCompleted",
			PaymentMethod:              "CreditCard",
			TotalCharged:               "0",
			RevenueModel:               "OA",
			HasError:                   true,
			ErrorCode:                  "V041",
			ErrorDescription:           "V041: duplicate order",
			IsV041:                     true,
			V041Waived:                 true,
			OtherOrders:                []string{"1002", "X3"},
			CanceledOrderHasCreditMemo: &memo,
			CreditMemoOrderID:          "X3",
			CanResend:                  true,
			Reason:                     "V041 ignored + OA + CreditCard (regardless of totalChargedAmount)",
			Step:                       engine.StepRevenueModel,
			Outcome:                    engine.OutcomeApproved,
		},
		{
			OrderID:      "1003",
			RevenueModel: "OO",
			Reason:       "OO with totalChargedAmount = 0",
			Step:         engine.StepRevenueModel,
			Outcome:      engine.OutcomeDenied,
		},
		{
			OrderID:     "1004",
			OrderStatus: "OrderCanceledInAMP",
			Reason:      "Order canceled (OrderCanceledInAMP)",
			Step:        engine.StepCanceled,
			Outcome:     engine.OutcomeDenied,
		},
		{
			OrderID:      "1005",
			RevenueModel: "OO",
			Reason:       "OO with totalChargedAmount = 0",
			Step:         engine.StepRevenueModel,
			Outcome:      engine.OutcomeDenied,
		},
		{
			OrderID: "1006",
			Reason:  "Error querying order service",
			Step:    engine.StepOrderQuery,
			Outcome: engine.OutcomeQueryFailed,
			Error:   "could not query the order",
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleVerdicts())

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Approved)
	assert.Equal(t, 3, s.Denied)
	assert.Equal(t, 1, s.QueryFailed)
	assert.Equal(t, 0, s.Faults)
	assert.Equal(t, []ReasonCount{
		{Reason: "OO with totalChargedAmount = 0", Count: 2},
		{Reason: "Order canceled (OrderCanceledInAMP)", Count: 1},
	}, s.Reasons)
}

func TestSummarize_OrderIndependent(t *testing.T) {
	verdicts := sampleVerdicts()
	reversed := make([]*engine.Verdict, len(verdicts))
	for i, v := range verdicts {
		reversed[len(verdicts)-1-i] = v
	}
	assert.Equal(t, Summarize(verdicts), Summarize(reversed))
}

func TestWriteSummary_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, Summarize(sampleVerdicts())))
	newGolden(t).Assert(t, "summary", buf.Bytes())
}

func TestWriteListing_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteListing(&buf, sampleVerdicts()))
	newGolden(t).Assert(t, "listing", buf.Bytes())
}

func TestWriteListing_NothingApproved(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteListing(&buf, sampleVerdicts()[2:5]))
	assert.True(t, strings.HasPrefix(buf.String(), "No orders approved for resend\n"))
	assert.NotContains(t, buf.String(), "NOT EVALUATED")
}

func TestApproved_KeepsOrder(t *testing.T) {
	approved := Approved(sampleVerdicts())
	require.Len(t, approved, 2)
	assert.Equal(t, "1001", approved[0].OrderID)
	assert.Equal(t, "1002", approved[1].OrderID)
}

func TestWriteJSONL_Golden(t *testing.T) {
	verdicts := sampleVerdicts()
	records := []Record{
		{Verdict: verdicts[0], ResendStatus: ResendSuccess},
		{Verdict: verdicts[1], ResendStatus: ResendFailed, ResendError: "order locked"},
		{Verdict: verdicts[3]},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, records))
	newGolden(t).Assert(t, "results", buf.Bytes())
}

func TestReadJSONL_RestoresRecords(t *testing.T) {
	verdicts := sampleVerdicts()
	written := []Record{
		{Verdict: verdicts[0], ResendStatus: ResendSuccess},
		{Verdict: verdicts[1], ResendStatus: ResendFailed, ResendError: "order locked"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, written))
	buf.WriteString("\n")

	records, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, ResendSuccess, first.ResendStatus)
	assert.Equal(t, "1001", first.Verdict.OrderID)
	assert.Equal(t, engine.OutcomeApproved, first.Verdict.Outcome)
	assert.Equal(t, "25.00", first.Verdict.TotalCharged.String())
	require.Len(t, first.Verdict.Context, 2)
	assert.Equal(t, "file", first.Verdict.Context[0].Key)
	assert.Equal(t, "row_number", first.Verdict.Context[1].Key)

	second := records[1]
	assert.Equal(t, "order locked", second.ResendError)
	assert.Equal(t, []string{"1002", "X3"}, second.Verdict.OtherOrders)
	require.NotNil(t, second.Verdict.CanceledOrderHasCreditMemo)
	assert.True(t, *second.Verdict.CanceledOrderHasCreditMemo)
	assert.Empty(t, second.Verdict.Context)

	// A restored record serializes back to the same line.
	var again bytes.Buffer
	require.NoError(t, WriteJSONL(&again, records))
	var orig bytes.Buffer
	require.NoError(t, WriteJSONL(&orig, written))
	assert.Equal(t, orig.String(), again.String())
}

func TestReadJSONL_BadLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{\"order_id\":\"1\"}\n[1,2]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestResultsFileName(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "validation_results_20260304_050607.jsonl", ResultsFileName(now))
}
