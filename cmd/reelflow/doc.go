// Package main hosts the reelflow CLI entrypoint and command graph.
//
// The Cobra command tree drives the orchestrator against a pipeline backend:
// creating runs from a script, style bible, and voiceover, following planning
// and prompt synthesis, confirming plans, listing shots, and requesting
// per-shot image and clip generation. It also exposes configuration
// scaffolding, a local development backend, and a notification check.
//
// Keep this package thin: behavior belongs in the internal packages and is
// surfaced here through commands and flags.
package main
