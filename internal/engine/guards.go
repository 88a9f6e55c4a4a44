package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/order"
	"github.com/roach88/resendgate/internal/revenue"
)

// v041WaivedPrefix marks the final reason of an order whose V041 error was
// waived.
const v041WaivedPrefix = "V041 ignored + "

// fetchOrder loads the order. Status and history come from this one call.
func (e *Evaluator) fetchOrder(ctx context.Context, ev *evaluation) Continuation {
	o, err := e.gw.FetchOrder(ctx, ev.verdict.OrderID)
	if err != nil {
		qe := newOrderQueryError(err)
		ev.log.Debug("order query failed", zap.Error(qe))
		ev.verdict.failQuery(qe)
		return Halt
	}
	ev.order = o
	ev.verdict.absorbOrder(o)
	ev.log.Debug("order queried",
		zap.String("status", o.Status),
		zap.String("article_id", o.ArticleID),
		zap.String("payment_method", o.PaymentMethod),
		zap.String("total_charged", o.TotalCharged.String()))
	return Continue
}

// checkCanceled denies canceled orders before anything else is looked at.
func (e *Evaluator) checkCanceled(_ context.Context, ev *evaluation) Continuation {
	if !ev.order.IsCanceled() {
		return Continue
	}
	ev.verdict.deny(StepCanceled, fmt.Sprintf("Order canceled (%s)", order.StatusCanceled))
	return Halt
}

// checkErrors inspects the first error event. Any code other than V041
// denies; V041 goes through cross-order resolution.
func (e *Evaluator) checkErrors(ctx context.Context, ev *evaluation) Continuation {
	sig := order.FindError(ev.order.History)
	ev.verdict.absorbSignature(sig)
	if !sig.HasError {
		ev.log.Debug("no errors in history")
		return Continue
	}

	if !sig.IsV041() {
		ev.verdict.deny(StepOtherError,
			fmt.Sprintf("Error detected: %s - %s", sig.CodeOrUnknown(), sig.Description))
		return Halt
	}

	ev.verdict.IsV041 = true
	ev.log.Info("V041 error detected, verifying other orders")
	res := ResolveV041(ctx, e.gw, ev.log, ev.order.ID, ev.order.ArticleID)
	ev.verdict.absorbResolution(res)
	if !res.Waived {
		ev.verdict.deny(res.Step, res.Reason)
		return Halt
	}
	ev.verdict.V041Waived = true
	ev.log.Info("V041 ignored, continuing validation")
	return Continue
}

// checkRevenueModel applies the revenue-model rule table. It always halts.
func (e *Evaluator) checkRevenueModel(ctx context.Context, ev *evaluation) Continuation {
	o := ev.order
	if o.ArticleID == "" {
		ev.verdict.deny(StepRevenueModel, "article id not available for revenue model validation")
		return Halt
	}

	pd, err := e.gw.FetchProductDetails(ctx, o.ArticleID)
	if err != nil {
		ev.log.Debug("product details query failed", zap.Error(err))
		ev.verdict.deny(StepRevenueModel, "could not query product details to get revenue model")
		return Halt
	}
	if pd.RevenueModel == "" {
		ev.verdict.deny(StepRevenueModel, "revenue model not found in product details")
		return Halt
	}
	ev.verdict.RevenueModel = pd.RevenueModel
	if ev.verdict.ArticleDOI == "" {
		ev.verdict.ArticleDOI = pd.DOI
	}

	allow, reason := revenue.Evaluate(pd.RevenueModel, o.PaymentMethod, o.TotalCharged)
	if ev.verdict.V041Waived {
		reason = v041WaivedPrefix + reason
	}
	if allow {
		ev.verdict.approve(StepRevenueModel, reason)
	} else {
		ev.verdict.deny(StepRevenueModel, reason)
	}
	return Halt
}
