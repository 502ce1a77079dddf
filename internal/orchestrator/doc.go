// Package orchestrator coordinates runs against the pipeline backend.
//
// An Orchestrator owns the backend client, the run registry, and a shared
// poll.Tasks group. Opening a run yields a Session: the session resolves the
// run's stage from its status record, resumes whichever poller that stage
// needs, and exposes a read-only view model (stage, progress log, shots,
// per-shot generation flags, operator notices) through Snapshot and
// Subscribe.
//
// Only poller callbacks and explicit operator calls mutate a session. Every
// mutation happens under the session lock and is skipped once the owning
// poller has been cancelled, so a stopped poller never changes state.
package orchestrator
