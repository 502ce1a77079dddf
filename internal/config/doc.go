// Package config loads, normalizes, and validates reelflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), applies .env files from the working directory, reads TOML files,
// and honours environment fallbacks such as REELFLOW_API_URL and NTFY_TOPIC.
// The Config type centralizes the backend location, poll timing, and the dev
// server settings so the CLI and orchestrator see the same values.
//
// Always obtain settings through this package so downstream code receives
// sanitized URLs, canonical log formats, and clear validation errors.
package config
