// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state for the engine's current CrawlState.
package api
