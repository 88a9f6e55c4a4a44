// Package harness runs verdict scenarios: a frozen snapshot of the remote
// services, the orders to evaluate, and what each verdict must look like.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	snapshot:
//	  orders:
//	    "1001": { status: OrderCompleted, article_id: PD123, ... }
//	  products:
//	    PD123: { revenue_model: OA }
//	  siblings:
//	    "123": [ { id: "1001", status: OrderCompleted } ]
//	orders: ["1001"]
//	resend: true
//	expect:
//	  - order: "1001"
//	    outcome: approved
//	    step: "3. Revenue model validation"
//	    reason: "OA + CreditCard (regardless of totalChargedAmount)"
//	    fields: { revenue_model: OA }
//	assertions:
//	  - type: calls
//	    method: FetchSiblingOrders
//	    count: 0
//	  - type: summary
//	    expect: { approved: 1 }
//
// Unknown fields are rejected at every level, so a misspelled key fails the
// load instead of silently weakening the scenario.
//
// # Assertion Types
//
//   - calls: a gateway method was called exactly count times
//   - summary: subset match on the batch summary counts
//   - submitted: the exact order ids sent for resend, in order
//   - idempotent: evaluating the snapshot again reaches identical verdicts
//
// Every run is recorded in an in-memory run store; the idempotent assertion
// compares fingerprints across two runs.
package harness
