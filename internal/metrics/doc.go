// Package metrics exposes bus and rpc statistics to Prometheus.
//
// The Collector reads Stats snapshots at scrape time, so nothing in the hot
// publish path touches Prometheus. Server serves the registry over HTTP
// alongside a /health endpoint.
package metrics
