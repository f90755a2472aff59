// Package crawler implements the pagination engine that drives a harvest:
// fetch a page at the current cursor, extract its records, persist them,
// record the cursor in the progress log, and decide whether to continue.
//
// The engine is strictly sequential. Its state is an immutable CrawlState
// value that is replaced on every step and published through an atomic
// pointer so other goroutines (the status server) can observe it.
package crawler
