// Package httpserver is the HTTP surface of the notification service: the
// client stream endpoints (SSE and WebSocket), the item push endpoint, health
// and version probes and the Prometheus scrape endpoint.
package httpserver
