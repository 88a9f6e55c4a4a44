// Package gateway fetches order data from the remote order-management
// services and submits resend requests.
//
// Two implementations satisfy Gateway:
//
//   - HTTPGateway talks to the live services over one shared, authenticated
//     HTTP session. Calls are rate limited and retried with exponential
//     backoff on transport errors and 429/5xx responses.
//   - FixtureGateway serves a YAML snapshot, for offline runs and tests.
//
// Both are safe for concurrent use by many evaluation workers.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/resendgate/internal/order"
)

// Sentinel errors. Implementations wrap them with %w so callers can
// classify failures with errors.Is.
var (
	// ErrUnavailable means the remote service could not be reached or
	// answered with a non-success status.
	ErrUnavailable = errors.New("remote service unavailable")

	// ErrMalformed means the response did not have the expected shape.
	ErrMalformed = errors.New("malformed response")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Gateway is the data access contract of the eligibility checker.
type Gateway interface {
	// FetchOrder returns one order with its status and history.
	FetchOrder(ctx context.Context, orderID string) (*order.Order, error)

	// FetchProductDetails returns the product metadata of an article,
	// including its revenue model when the service knows it.
	FetchProductDetails(ctx context.Context, articleID string) (*order.ProductDetails, error)

	// FetchSiblingOrders lists every order of an article. The caller strips
	// the "PD" prefix from the article id (see order.CrossReferenceKey).
	FetchSiblingOrders(ctx context.Context, articleKey string) ([]order.Sibling, error)

	// SubmitResend asks the downstream service to resend one order. The call
	// is best-effort and not idempotent.
	SubmitResend(ctx context.Context, orderID string) error
}

// ResendError reports a rejected or failed resend request.
type ResendError struct {
	OrderID string
	Detail  string
	Err     error
}

func (e *ResendError) Error() string {
	return fmt.Sprintf("resend %s: %s", e.OrderID, e.Detail)
}

func (e *ResendError) Unwrap() error {
	return e.Err
}
