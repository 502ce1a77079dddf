// Package pipeline maps backend run status records onto the client-visible
// pipeline stages.
//
// Resolve is the single source of truth for what an operator should see for a
// given status record: it is pure, total, and idempotent, and it also reports
// which poller (if any) must be resumed to keep observing the run. State and
// its transition functions form the explicit state machine the orchestrator
// drives from poll results and operator actions.
package pipeline
