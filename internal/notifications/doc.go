// Package notifications delivers pipeline events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Stage, job, and
// error notices can each be toggled so operators only hear about the events
// they care about.
package notifications
