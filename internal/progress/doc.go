// Package progress carries fetch run telemetry. Workers emit Events through a
// Hub, which batches them off the hot path and hands each batch to a set of
// sinks (structured logs, Prometheus, the run history table).
package progress
