// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between layers and makes the
// durations discoverable.
package timeouts

import "time"

// StoreQuery caps a single cache-store query issued while serving a request.
const StoreQuery = 2 * time.Second

// StoreVerify caps each startup verification probe against the cache store.
const StoreVerify = 5 * time.Second

// HealthProbe caps the store ping behind the HTTP health endpoint.
const HealthProbe = time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
