// Package timeouts defines shared timeout constants used across the servers.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// RelationLoad caps a single projection cache load from a repository.
const RelationLoad = 10 * time.Second

// WatchPing is the interval between keepalive frames on relation watch streams.
const WatchPing = 30 * time.Second
