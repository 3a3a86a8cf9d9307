// Package metrics defines the Overlord's Prometheus collectors, served at
// /metrics on the health port.
package metrics
