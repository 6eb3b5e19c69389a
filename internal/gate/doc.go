// Package gate decides whether a stage's findings let a run proceed.
//
// Evaluate is a pure function: the same findings and the same rule set
// version always produce the same verdict. That determinism is what lets
// the pattern learner replay historical decisions against revised rules
// and keeps the audit trail trustworthy. Rule sets are immutable
// versioned snapshots; the evaluator reads exactly one snapshot per
// evaluation and never a partial update.
package gate
