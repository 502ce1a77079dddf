// Package poll provides the cancellable polling primitives the orchestrator
// runs against the backend.
//
// Tasks is a keyed group of goroutines with cancel-then-start discipline: at
// most one task per key is ever active, and Stop does not return until the
// task has exited, so a stopped poller can no longer mutate state.
//
// StatusPoller watches a run's stage record until a target stage completes or
// fails. JobPoller repeatedly fetches a single entity until a readiness check
// passes or an attempt ceiling is reached. Both tick on a fixed period with
// the first fetch one period after start, run ticks strictly sequentially, and
// treat fetch errors as transient.
package poll
