// Package logging provides a minimal logging interface and adapters for finmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the agent loop, cache, tools and runner use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping a plain *slog.Logger
//   - StructuredLogger with turn/component scoping
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	cache := cache.New(func(o *cache.Options) { o.Logger = logger.WithComponent("cache") })
package logging
