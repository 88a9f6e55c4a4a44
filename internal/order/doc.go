// Package order holds the order-side domain model used by the eligibility
// checker: orders, their event history, sibling orders of an article and
// the product details that carry an article's revenue model.
//
// # History inspection
//
// Two read-only scans run over an order's history:
//
//   - FindError returns the signature of the first error-type event. Later
//     error events are never examined, even when more severe.
//   - HasCreditMemo reports whether any event records a credit memo.
//
// Both scans walk the history in the order the remote service returned it.
//
// # Cancellation
//
// An order is canceled when its status equals StatusCanceled. Sibling orders
// also carry an explicit in-cancelled-state flag; see Sibling.CountsAsActive
// for how the two fields combine.
package order
