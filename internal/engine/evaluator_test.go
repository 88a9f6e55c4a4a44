package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/resendgate/internal/gateway"
)

func loadFixture(t *testing.T) *gateway.FixtureGateway {
	t.Helper()
	snap, err := gateway.LoadSnapshot("testdata/orders.yaml")
	require.NoError(t, err)
	return gateway.NewFixtureGateway(snap)
}

func evaluate(t *testing.T, orderID string) (*Verdict, *gateway.FixtureGateway) {
	t.Helper()
	gw := loadFixture(t)
	v := NewEvaluator(gw).Evaluate(context.Background(), Job{OrderID: orderID})
	require.NotNil(t, v)
	return v, gw
}

func TestEvaluate_Verdicts(t *testing.T) {
	tests := []struct {
		name    string
		orderID string
		outcome Outcome
		step    Step
		reason  string
	}{
		{
			name:    "canceled order",
			orderID: "C1",
			outcome: OutcomeDenied,
			step:    StepCanceled,
			reason:  "Order canceled (OrderCanceledInAMP)",
		},
		{
			name:    "OO with zero charge",
			orderID: "N1",
			outcome: OutcomeDenied,
			step:    StepRevenueModel,
			reason:  "OO with totalChargedAmount = 0",
		},
		{
			name:    "OO with charge",
			orderID: "N2",
			outcome: OutcomeApproved,
			step:    StepRevenueModel,
			reason:  "OO with totalChargedAmount > 0 ($25.00)",
		},
		{
			name:    "first error is authoritative",
			orderID: "E1",
			outcome: OutcomeDenied,
			step:    StepOtherError,
			reason:  "Error detected: E100 - E100: bad address",
		},
		{
			name:    "error without code",
			orderID: "E2",
			outcome: OutcomeDenied,
			step:    StepOtherError,
			reason:  "Error detected: UNKNOWN - something broke",
		},
		{
			name:    "V041 with one active sibling",
			orderID: "V1",
			outcome: OutcomeDenied,
			step:    StepV041ActiveOrders,
			reason:  "V041 error: 1 non-canceled order(s) detected - requires manual review",
		},
		{
			name:    "V041 active sibling beats credit memo",
			orderID: "V2",
			outcome: OutcomeDenied,
			step:    StepV041ActiveOrders,
			reason:  "V041 error: 1 non-canceled order(s) detected - requires manual review",
		},
		{
			name:    "V041 waived",
			orderID: "V3",
			outcome: OutcomeApproved,
			step:    StepRevenueModel,
			reason:  "V041 ignored + OA + CreditCard (regardless of totalChargedAmount)",
		},
		{
			name:    "V041 only self listed",
			orderID: "V4",
			outcome: OutcomeDenied,
			step:    StepV041NoCanceled,
			reason:  "V041 error: no canceled order found",
		},
		{
			name:    "V041 canceled status without flag counts as active",
			orderID: "V5",
			outcome: OutcomeDenied,
			step:    StepV041ActiveOrders,
			reason:  "V041 error: 1 non-canceled order(s) detected - requires manual review",
		},
		{
			name:    "V041 canceled sibling without credit memo",
			orderID: "V6",
			outcome: OutcomeDenied,
			step:    StepV041NoCreditMemo,
			reason:  "V041 error: canceled order without credit memo - requires manual review",
		},
		{
			name:    "V041 without article id",
			orderID: "V7",
			outcome: OutcomeDenied,
			step:    StepV041Detection,
			reason:  "V041 detected but article id not available",
		},
		{
			name:    "V041 sibling lookup fails",
			orderID: "V8",
			outcome: OutcomeDenied,
			step:    StepV041Detection,
			reason:  "V041 error: could not verify other orders for the article",
		},
		{
			name:    "V041 waived then denied by rule table",
			orderID: "V9",
			outcome: OutcomeDenied,
			step:    StepRevenueModel,
			reason:  "V041 ignored + OO with totalChargedAmount = 0",
		},
		{
			name:    "malformed order response",
			orderID: "M1",
			outcome: OutcomeQueryFailed,
			step:    StepOrderQuery,
			reason:  "Error querying order service",
		},
		{
			name:    "order service unreachable",
			orderID: "U1",
			outcome: OutcomeQueryFailed,
			step:    StepOrderQuery,
			reason:  "Error querying order service",
		},
		{
			name:    "no article id for revenue model",
			orderID: "R1",
			outcome: OutcomeDenied,
			step:    StepRevenueModel,
			reason:  "article id not available for revenue model validation",
		},
		{
			name:    "product details unavailable",
			orderID: "R2",
			outcome: OutcomeDenied,
			step:    StepRevenueModel,
			reason:  "could not query product details to get revenue model",
		},
		{
			name:    "revenue model missing",
			orderID: "R3",
			outcome: OutcomeDenied,
			step:    StepRevenueModel,
			reason:  "revenue model not found in product details",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := evaluate(t, tt.orderID)

			assert.Equal(t, tt.orderID, v.OrderID)
			assert.Equal(t, tt.outcome, v.Outcome)
			assert.Equal(t, tt.step, v.Step)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.outcome == OutcomeApproved, v.CanResend)
		})
	}
}

func TestEvaluate_CanceledTakesPrecedence(t *testing.T) {
	v, gw := evaluate(t, "C1")

	assert.Equal(t, StepCanceled, v.Step)
	assert.False(t, v.HasError, "history is not inspected for canceled orders")
	assert.Zero(t, gw.Calls("FetchProductDetails"))
	assert.Zero(t, gw.Calls("FetchSiblingOrders"))
}

func TestEvaluate_OtherErrorSkipsRevenueModel(t *testing.T) {
	for _, id := range []string{"E1", "E2"} {
		v, gw := evaluate(t, id)

		assert.True(t, v.HasError)
		assert.False(t, v.IsV041)
		assert.Empty(t, v.RevenueModel)
		assert.Zero(t, gw.Calls("FetchProductDetails"), id)
		assert.Zero(t, gw.Calls("FetchSiblingOrders"), id)
	}
}

func TestEvaluate_V041MonotonicDoesNotFetchSiblings(t *testing.T) {
	v, gw := evaluate(t, "V2")

	assert.Equal(t, 1, v.OtherOrdersNotCanceled)
	assert.Nil(t, v.CanceledOrderHasCreditMemo)
	assert.Equal(t, []string{"V2", "X1", "X2"}, v.OtherOrders)
	assert.Equal(t, 1, gw.Calls("FetchOrder"), "canceled siblings are not fetched")
}

func TestEvaluate_V041WaivedFacts(t *testing.T) {
	v, _ := evaluate(t, "V3")

	assert.True(t, v.IsV041)
	assert.True(t, v.V041Waived)
	assert.Equal(t, "V041", v.ErrorCode)
	assert.Equal(t, "X3", v.CreditMemoOrderID)
	require.NotNil(t, v.CanceledOrderHasCreditMemo)
	assert.True(t, *v.CanceledOrderHasCreditMemo)
	assert.Equal(t, "OA", v.RevenueModel)
	assert.Equal(t, "CreditCard", v.PaymentMethod)
}

func TestEvaluate_V041SkipsUnreachableCanceledSibling(t *testing.T) {
	v, gw := evaluate(t, "V9")

	assert.True(t, v.V041Waived)
	assert.Equal(t, "X7", v.CreditMemoOrderID)
	assert.Equal(t, 3, gw.Calls("FetchOrder"), "order, failed X6, then X7")
}

func TestEvaluate_QueryFailureDetail(t *testing.T) {
	v, _ := evaluate(t, "M1")
	assert.Equal(t, "orderDetails section missing from response", v.Error)
	assert.False(t, v.CanResend)
	assert.Empty(t, v.OrderStatus)

	v, _ = evaluate(t, "U1")
	assert.Equal(t, "could not query the order", v.Error)
}

func TestEvaluate_OrderFetchTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	gw, err := gateway.NewHTTPGateway(gateway.HTTPOptions{
		Endpoints: gateway.Endpoints{OrderURL: srv.URL + "/orders/{order_id}"},
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	v := NewEvaluator(gw).Evaluate(context.Background(), Job{OrderID: "T1"})
	assert.Equal(t, OutcomeQueryFailed, v.Outcome)
	assert.Equal(t, StepOrderQuery, v.Step)
	assert.Equal(t, "could not query the order", v.Error)
	assert.False(t, v.CanResend)
}

func TestEvaluate_Idempotent(t *testing.T) {
	gw := loadFixture(t)
	eval := NewEvaluator(gw)

	for _, id := range []string{"C1", "N1", "N2", "E1", "V1", "V3", "V6", "V9", "M1", "R3"} {
		first := eval.Evaluate(context.Background(), Job{OrderID: id})
		second := eval.Evaluate(context.Background(), Job{OrderID: id})
		assert.Equal(t, first, second, id)
	}
}

func TestEvaluate_KeepsJobContext(t *testing.T) {
	gw := loadFixture(t)
	ctxFields := []Field{{Key: "file", Value: "batch.csv"}, {Key: "row_number", Value: 7}}

	v := NewEvaluator(gw).Evaluate(context.Background(), Job{OrderID: "N1", Context: ctxFields})
	assert.Equal(t, ctxFields, v.Context)
}

func TestEvaluate_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gw := loadFixture(t)
	eval := NewEvaluator(gw, WithLogger(zap.New(core)))

	eval.Evaluate(context.Background(), Job{OrderID: "N1"})
	eval.Evaluate(context.Background(), Job{OrderID: "N2"})
	eval.Evaluate(context.Background(), Job{OrderID: "M1"})

	assert.Equal(t, 1, logs.FilterMessage("blocked").FilterField(zap.String("order_id", "N1")).Len())
	assert.Equal(t, 1, logs.FilterMessage("approved").FilterField(zap.String("order_id", "N2")).Len())
	assert.Equal(t, 1, logs.FilterMessage(string(OutcomeQueryFailed)).Len())
}

func TestGuards_Isolated(t *testing.T) {
	gw := loadFixture(t)
	e := NewEvaluator(gw)
	ctx := context.Background()

	ev := &evaluation{verdict: &Verdict{OrderID: "N1"}, log: zap.NewNop()}
	require.Equal(t, Continue, e.fetchOrder(ctx, ev))
	assert.Equal(t, Continue, e.checkCanceled(ctx, ev))
	assert.Equal(t, Continue, e.checkErrors(ctx, ev))
	assert.Equal(t, Halt, e.checkRevenueModel(ctx, ev))
	assert.Equal(t, StepRevenueModel, ev.verdict.Step)

	ev = &evaluation{verdict: &Verdict{OrderID: "C1"}, log: zap.NewNop()}
	require.Equal(t, Continue, e.fetchOrder(ctx, ev))
	assert.Equal(t, Halt, e.checkCanceled(ctx, ev))

	ev = &evaluation{verdict: &Verdict{OrderID: "M1"}, log: zap.NewNop()}
	assert.Equal(t, Halt, e.fetchOrder(ctx, ev))
	assert.Nil(t, ev.order)
}

func TestQueryError_Classification(t *testing.T) {
	qe := newOrderQueryError(fmt.Errorf("wrap: %w", gateway.ErrMalformed))
	assert.Equal(t, "orderDetails section missing from response", qe.Detail)
	assert.ErrorIs(t, qe, gateway.ErrMalformed)

	qe = newOrderQueryError(gateway.ErrUnavailable)
	assert.Equal(t, "could not query the order", qe.Detail)
	assert.Contains(t, qe.Error(), string(StepOrderQuery))
}
