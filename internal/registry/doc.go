// Package registry keeps the in-memory list of runs shown on the dashboard.
//
// Runs created locally are inserted at the front immediately as Pending and
// become Confirmed once a backend refresh returns a run with the same ID, or
// Rejected when the creation call fails. A refresh replaces every confirmed
// entry with the backend snapshot; runs are never removed during a session.
package registry
