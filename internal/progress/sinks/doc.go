// Package sinks holds the progress.Sink implementations: structured logs,
// Prometheus collectors, and the fetch run repository.
package sinks
