// Package reconcile turns raw backend shot records into the stable view
// records the orchestrator exposes.
//
// The transform is total: camera configuration may arrive as a structure or a
// serialized string, asset metadata may be missing or malformed, and any of
// those problems only degrades the affected derived field. PROMPT assets are
// metadata carriers; they feed a shot's derived prompts and never appear in
// its media list. Missing backend data stays absent (nil) instead of being
// replaced with empty defaults.
package reconcile
