package engine

import (
	"encoding/json"

	"github.com/roach88/resendgate/internal/order"
)

// Step names the stage of the decision hierarchy that produced a verdict.
type Step string

const (
	StepOrderQuery       Step = "1. Order query"
	StepCanceled         Step = "1. Canceled status check"
	StepV041Detection    Step = "2. V041 error detection"
	StepV041ActiveOrders Step = "2.1. V041 - Multiple active orders"
	StepV041NoCanceled   Step = "2.1. V041 - No canceled orders"
	StepV041NoCreditMemo Step = "2.1. V041 - No credit memo"
	StepOtherError       Step = "2.2. Other error detected"
	StepRevenueModel     Step = "3. Revenue model validation"
	StepFault            Step = "0. Unexpected fault"
)

// Outcome classifies a verdict. Query failures and faults are never denials.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeDenied      Outcome = "denied"
	OutcomeQueryFailed Outcome = "query_failed"
	OutcomeFault       Outcome = "fault"
)

// Field is one input context column attached to a job, such as the source
// file or row number. Order is preserved into the output records.
type Field struct {
	Key   string
	Value any
}

// Job is one order to evaluate.
type Job struct {
	OrderID string
	Context []Field
}

// Verdict is the audited decision for one order, with every fact gathered
// on the way to it.
type Verdict struct {
	OrderID string  `json:"order_id"`
	Context []Field `json:"-"`

	OrderStatus   string      `json:"order_status,omitempty"`
	ArticleID     string      `json:"article_id,omitempty"`
	ArticleDOI    string      `json:"article_doi,omitempty"`
	JournalName   string      `json:"journal_name,omitempty"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	TotalCharged  json.Number `json:"total_charged,omitempty"`
	RevenueModel  string      `json:"revenue_model,omitempty"`

	HasError         bool   `json:"has_error"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`

	IsV041                     bool     `json:"is_v041_error,omitempty"`
	V041Waived                 bool     `json:"v041_waived,omitempty"`
	OtherOrders                []string `json:"other_orders,omitempty"`
	OtherOrdersNotCanceled     int      `json:"other_orders_not_canceled,omitempty"`
	CanceledOrderHasCreditMemo *bool    `json:"canceled_order_has_credit_memo,omitempty"`
	CreditMemoOrderID          string   `json:"credit_memo_order_id,omitempty"`

	CanResend bool    `json:"can_resend"`
	Reason    string  `json:"validation_reason"`
	Step      Step    `json:"validation_step"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`

	// Seq is the completion position within a batch, starting at 1.
	Seq int64 `json:"-"`
}

// Blocked reports whether the verdict prevents a resend for any reason.
func (v *Verdict) Blocked() bool {
	return !v.CanResend
}

func (v *Verdict) absorbOrder(o *order.Order) {
	v.OrderStatus = o.Status
	v.ArticleID = o.ArticleID
	v.ArticleDOI = o.ArticleDOI
	v.JournalName = o.JournalName
	v.PaymentMethod = o.PaymentMethod
	v.TotalCharged = json.Number(o.TotalCharged.String())
}

func (v *Verdict) absorbSignature(sig order.ErrorSignature) {
	v.HasError = sig.HasError
	v.ErrorCode = sig.Code
	v.ErrorDescription = sig.Description
}

func (v *Verdict) absorbResolution(res V041Resolution) {
	v.OtherOrders = res.OtherOrders
	v.OtherOrdersNotCanceled = res.NotCanceled
	v.CanceledOrderHasCreditMemo = res.CreditMemoChecked
	v.CreditMemoOrderID = res.CreditMemoOrderID
}

func (v *Verdict) approve(step Step, reason string) {
	v.CanResend = true
	v.Outcome = OutcomeApproved
	v.Step = step
	v.Reason = reason
}

func (v *Verdict) deny(step Step, reason string) {
	v.CanResend = false
	v.Outcome = OutcomeDenied
	v.Step = step
	v.Reason = reason
}

func (v *Verdict) failQuery(qe *QueryError) {
	v.CanResend = false
	v.Outcome = OutcomeQueryFailed
	v.Step = qe.Step
	v.Reason = qe.Reason
	v.Error = qe.Detail
}

func (v *Verdict) fault(detail string) {
	v.CanResend = false
	v.Outcome = OutcomeFault
	v.Step = StepFault
	v.Reason = "Unexpected fault during evaluation"
	v.Error = detail
}
