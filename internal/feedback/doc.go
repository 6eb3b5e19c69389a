// Package feedback closes the loop between gate verdicts and the humans
// who review them.
//
// Corrections (false positive, false negative, confirmed) are appended
// to an immutable store. The learner runs out of band, aggregates
// corrections per finding kind, and once a kind has a statistically
// meaningful sample publishes a revised gate rule set version. History
// is never rewritten: new versions apply only to subsequently scheduled
// evaluations, so past runs stay reproducible.
package feedback
