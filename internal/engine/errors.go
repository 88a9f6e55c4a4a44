package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/resendgate/internal/gateway"
)

// Failure details recorded on query-failed verdicts.
const (
	queryFailureReason = "Error querying order service"
	detailUnreachable  = "could not query the order"
	detailMalformed    = "orderDetails section missing from response"
)

// QueryError describes a remote fetch that did not produce usable data.
// It becomes a query_failed verdict, never a denial.
type QueryError struct {
	// Step is the stage at which the fetch was attempted.
	Step Step

	// Reason is the user-facing reason string.
	Reason string

	// Detail distinguishes an unreachable service from a malformed answer.
	Detail string

	// Err is the underlying gateway error.
	Err error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Detail)
}

// Unwrap exposes the gateway error to errors.Is.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// newOrderQueryError classifies a FetchOrder failure.
func newOrderQueryError(err error) *QueryError {
	detail := detailUnreachable
	if errors.Is(err, gateway.ErrMalformed) {
		detail = detailMalformed
	}
	return &QueryError{
		Step:   StepOrderQuery,
		Reason: queryFailureReason,
		Detail: detail,
		Err:    err,
	}
}
