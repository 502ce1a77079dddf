// Package devserver is a local stand-in for the pipeline backend.
//
// It serves the same REST surface the orchestrator consumes, persists runs,
// stage records, shots, and assets in SQLite, and simulates stage execution
// and per-shot generation in background goroutines with configurable step
// delays. A file lock on the state directory keeps two instances from sharing
// one database.
package devserver
