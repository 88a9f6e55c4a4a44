// Package engine decides whether orders may be resent.
//
// # Evaluation
//
// An Evaluator runs a fixed sequence of guards over one order:
//
//  1. fetchOrder        retrieve the order; failure is a query failure
//  2. checkCanceled     canceled orders are always denied
//  3. checkErrors       the first error event in history denies, except V041
//  4. checkRevenueModel the revenue-model rule table decides
//
// Each guard either halts with a terminal Verdict or lets evaluation
// continue. No guard runs twice. Every terminal Verdict carries the Step that
// produced it and a human-readable reason.
//
// A V041 error is not terminal by itself. ResolveV041 inspects the other
// orders of the same article; when every one of them is canceled and at least
// one carries a credit memo, the error is waived and the revenue-model guard
// decides, with the waiver noted in the reason.
//
// # Batches
//
// Batch runs an Evaluator over many jobs with a bounded number of workers.
// Verdicts are collected in completion order and stamped with a completion
// sequence number from a Clock. A panic while evaluating one order is
// recovered and recorded as a fault against that order only.
//
// # Ownership
//
// A Verdict is built by exactly one worker and is not modified after it is
// handed to the collector. The Gateway is the only state shared between
// workers and must be safe for concurrent use.
package engine
