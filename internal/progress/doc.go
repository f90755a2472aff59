// Package progress provides the crawl lifecycle events the engine emits and
// the fan-out that delivers them, in order, to pluggable sinks such as
// Prometheus metrics or structured logs.
package progress
