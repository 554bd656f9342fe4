// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the scrape pipeline uses to report run progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such
// as the console progress bar, Prometheus metrics, or the run history store.
package progress
