package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resendgate/internal/order"
)

// stubSiblings is an in-memory SiblingSource.
type stubSiblings struct {
	listings map[string][]order.Sibling
	orders   map[string][]order.Event
	listErr  error
	fetched  []string
}

func (s *stubSiblings) FetchSiblingOrders(_ context.Context, key string) ([]order.Sibling, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listings[key], nil
}

func (s *stubSiblings) FetchOrder(_ context.Context, id string) (*order.Order, error) {
	s.fetched = append(s.fetched, id)
	history, ok := s.orders[id]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return &order.Order{ID: id, Status: order.StatusCanceled, History: history}, nil
}

var memoHistory = []order.Event{{Type: "Credit memo created"}}

func canceledSibling(id string) order.Sibling {
	return order.Sibling{ID: id, Status: order.StatusCanceled, InCancelledState: true}
}

func TestResolveV041_StripsPrefixForLookup(t *testing.T) {
	src := &stubSiblings{
		listings: map[string][]order.Sibling{"555": {canceledSibling("B")}},
		orders:   map[string][]order.Event{"B": memoHistory},
	}

	res := ResolveV041(context.Background(), src, nil, "A", "PD555")
	assert.True(t, res.Waived)
	assert.Equal(t, "B", res.CreditMemoOrderID)
}

func TestResolveV041_ListingFailure(t *testing.T) {
	src := &stubSiblings{listErr: errors.New("timeout")}

	res := ResolveV041(context.Background(), src, nil, "A", "PD1")
	assert.False(t, res.Waived)
	assert.Equal(t, StepV041Detection, res.Step)
	assert.Equal(t, "V041 error: could not verify other orders for the article", res.Reason)

	res = ResolveV041(context.Background(), &stubSiblings{}, nil, "A", "PD1")
	assert.Equal(t, StepV041Detection, res.Step, "an empty listing is treated like a failure")
}

func TestResolveV041_CountsEveryActiveSibling(t *testing.T) {
	src := &stubSiblings{listings: map[string][]order.Sibling{"1": {
		{ID: "A", Status: "OrderCompleted"},
		{ID: "B", Status: "OrderCompleted"},
		{ID: "C", Status: order.StatusCanceled},
		canceledSibling("D"),
	}}}

	res := ResolveV041(context.Background(), src, nil, "A", "PD1")
	assert.Equal(t, 2, res.NotCanceled, "self is excluded")
	assert.Equal(t, "V041 error: 2 non-canceled order(s) detected - requires manual review", res.Reason)
	assert.Empty(t, src.fetched)
}

func TestResolveV041_StopsAtFirstCreditMemo(t *testing.T) {
	src := &stubSiblings{
		listings: map[string][]order.Sibling{"1": {
			canceledSibling("B"),
			canceledSibling("C"),
			canceledSibling("D"),
		}},
		orders: map[string][]order.Event{
			"B": {{Type: "Order canceled"}},
			"C": memoHistory,
			"D": memoHistory,
		},
	}

	res := ResolveV041(context.Background(), src, nil, "A", "PD1")
	require.True(t, res.Waived)
	assert.Equal(t, "C", res.CreditMemoOrderID)
	assert.Equal(t, []string{"B", "C"}, src.fetched)
	require.NotNil(t, res.CreditMemoChecked)
	assert.True(t, *res.CreditMemoChecked)
}

func TestResolveV041_SelfComparedAsString(t *testing.T) {
	src := &stubSiblings{listings: map[string][]order.Sibling{"1": {
		{ID: "0042", Status: "OrderCompleted"},
	}}}

	res := ResolveV041(context.Background(), src, nil, "42", "PD1")
	assert.Equal(t, 1, res.NotCanceled, "0042 is not the same order as 42")
}
