package order

import (
	"strings"

	"github.com/govalues/decimal"
)

// StatusCanceled is the order status the order service reports for a
// canceled order.
const StatusCanceled = "OrderCanceledInAMP"

// CodeV041 is the error code that triggers cross-order resolution.
const CodeV041 = "V041"

// articleKeyPrefix is stripped from article ids before they are used to look
// up the orders of an article.
const articleKeyPrefix = "PD"

// Event is a single entry of an order's history.
type Event struct {
	Type        string `json:"eventType" yaml:"event_type"`
	Description string `json:"eventDescription" yaml:"event_description"`
}

// Order is the snapshot of one order as returned by a single order query.
// Status and History always come from the same query.
type Order struct {
	ID            string
	Status        string
	History       []Event
	ArticleID     string
	ArticleDOI    string
	JournalName   string
	PaymentMethod string
	TotalCharged  decimal.Decimal
}

// IsCanceled reports whether the order is in the canceled status.
func (o *Order) IsCanceled() bool {
	return o.Status == StatusCanceled
}

// ProductDetails carries the product metadata of an article.
type ProductDetails struct {
	ArticleID    string
	DOI          string
	RevenueModel string
}

// Sibling is an order listed for the same article as the order under
// evaluation.
type Sibling struct {
	ID               string
	Status           string
	InCancelledState bool
}

// IsCanceled reports whether the sibling's status is the canceled status.
// The explicit flag is not consulted.
func (s Sibling) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// CountsAsActive reports whether the sibling must be treated as a live order.
//
// A sibling is active when its status is not canceled, or when the status
// says canceled but the explicit in-cancelled-state flag is not set. Both
// conditions are kept: a canceled status without the flag is an inconsistent
// pair and is not trusted.
func (s Sibling) CountsAsActive() bool {
	return s.Status != StatusCanceled || !s.InCancelledState
}

// CrossReferenceKey returns the key used to list the orders of an article:
// the article id without its leading "PD".
func CrossReferenceKey(articleID string) string {
	return strings.TrimPrefix(articleID, articleKeyPrefix)
}
