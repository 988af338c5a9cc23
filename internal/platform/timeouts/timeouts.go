// Package timeouts defines shared timeout constants used across the app.
// Centralizing these values prevents drift between subsystems and makes the
// durations discoverable.
package timeouts

import "time"

// Query caps the time allowed for a single backend read before the caller
// reports a timeout instead of waiting indefinitely.
const Query = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
