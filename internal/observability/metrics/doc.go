// Package metrics exposes Prometheus collectors for the HTTP API, claim
// outcomes, owner withdrawals and asynchronous claim jobs.
package metrics
