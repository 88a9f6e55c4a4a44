package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/order"
)

// SiblingSource is the data ResolveV041 needs: the orders of an article and
// the history of each canceled one. gateway.Gateway satisfies it.
type SiblingSource interface {
	FetchSiblingOrders(ctx context.Context, articleKey string) ([]order.Sibling, error)
	FetchOrder(ctx context.Context, orderID string) (*order.Order, error)
}

// V041Resolution is the outcome of cross-order resolution. When Waived is
// false, Step and Reason hold the terminal denial.
type V041Resolution struct {
	Waived bool
	Step   Step
	Reason string

	// OtherOrders lists every order id returned for the article.
	OtherOrders []string

	// NotCanceled counts the other orders that still count as active.
	NotCanceled int

	// CreditMemoChecked is set once canceled siblings were inspected.
	CreditMemoChecked *bool

	// CreditMemoOrderID is the first canceled sibling with a credit memo.
	CreditMemoOrderID string
}

func v041Denied(step Step, reason string) V041Resolution {
	return V041Resolution{Step: step, Reason: reason}
}

// ResolveV041 decides whether a V041 error on orderID may be disregarded.
//
// The error is waived only when no other order of the article is still
// active and at least one canceled sibling carries a credit memo. An active
// sibling always wins, even when a canceled sibling has a credit memo.
// Siblings are compared to orderID as strings. A canceled sibling whose own
// fetch fails is skipped.
func ResolveV041(ctx context.Context, src SiblingSource, log *zap.Logger, orderID, articleID string) V041Resolution {
	if log == nil {
		log = zap.NewNop()
	}
	if articleID == "" {
		return v041Denied(StepV041Detection, "V041 detected but article id not available")
	}

	key := order.CrossReferenceKey(articleID)
	siblings, err := src.FetchSiblingOrders(ctx, key)
	if err != nil || len(siblings) == 0 {
		log.Debug("sibling lookup failed",
			zap.String("order_id", orderID),
			zap.String("article_key", key),
			zap.Error(err))
		return v041Denied(StepV041Detection, "V041 error: could not verify other orders for the article")
	}

	res := V041Resolution{OtherOrders: make([]string, 0, len(siblings))}
	var canceled []order.Sibling
	for _, s := range siblings {
		res.OtherOrders = append(res.OtherOrders, s.ID)
		if s.ID == orderID {
			continue
		}
		if s.CountsAsActive() {
			res.NotCanceled++
		}
		if s.IsCanceled() {
			canceled = append(canceled, s)
		}
	}

	if res.NotCanceled > 0 {
		res.Step = StepV041ActiveOrders
		res.Reason = fmt.Sprintf("V041 error: %d non-canceled order(s) detected - requires manual review", res.NotCanceled)
		return res
	}
	if len(canceled) == 0 {
		res.Step = StepV041NoCanceled
		res.Reason = "V041 error: no canceled order found"
		return res
	}

	found := false
	for _, s := range canceled {
		if s.ID == "" {
			continue
		}
		o, err := src.FetchOrder(ctx, s.ID)
		if err != nil {
			log.Debug("canceled sibling unavailable, skipping",
				zap.String("order_id", orderID),
				zap.String("sibling_id", s.ID),
				zap.Error(err))
			continue
		}
		if order.HasCreditMemo(o.History) {
			found = true
			res.CreditMemoOrderID = s.ID
			log.Info("V041 credit memo found",
				zap.String("order_id", orderID),
				zap.String("sibling_id", s.ID))
			break
		}
	}
	res.CreditMemoChecked = &found

	if !found {
		res.Step = StepV041NoCreditMemo
		res.Reason = "V041 error: canceled order without credit memo - requires manual review"
		return res
	}
	res.Waived = true
	return res
}
