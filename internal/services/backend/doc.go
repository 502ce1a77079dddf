// Package backend talks to the pipeline backend's REST API.
//
// The Client covers every endpoint the orchestrator consumes: run listing and
// creation, run status, shot trees, single shots, stage execution, and per-shot
// image and clip generation. Records are decoded into wire types that keep
// loosely typed fields (camera configuration, asset metadata) as raw JSON so
// the reconciler can degrade per field instead of failing the whole response.
//
// Any non-2xx response is returned as a *StatusError; callers must treat it as
// a hard failure for that call.
package backend
