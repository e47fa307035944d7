// Package api hosts the optional status server for a running crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the aggregator counters as JSON.
package api
