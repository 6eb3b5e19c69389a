// Package scheduler executes pipeline runs over the stage dependency
// graph. It launches every stage whose prerequisites have succeeded,
// bounded by the concurrency limit, and funnels all completions through
// a single event loop per run so run state never needs shared-memory
// coordination between stages.
//
// A stage result passes through the gate evaluator before its
// dependents unlock; a blocking verdict halts the run and cancels
// in-flight stages cooperatively. Results that arrive after a halt are
// recorded late for audit and never change run state. Deploy-kind
// failures after a healthy deployment trigger the rollback controller.
package scheduler
