// Package logging provides structured logging with zerolog for the CQCache library.
// It supports configurable log levels, output formats (JSON/console), and automatic
// extraction of trace/span IDs from context so cache logs correlate with the
// embedding service's traces.
//
// Example usage:
//
//	cfg := config.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//	logger := logging.New(cfg)
//	logger.Info().Str("cache_key", "users:42").Msg("cache hit")
package logging

// Standard field names for structured logging.
// These constants ensure consistent field naming across the library.
const (
	// TraceID is the field name for distributed trace ID (W3C trace context).
	TraceID = "trace_id"

	// SpanID is the field name for current span ID within a trace.
	SpanID = "span_id"

	// Timestamp is the field name for when the log was created.
	Timestamp = "timestamp"

	// Level is the field name for log level (debug, info, warn, error).
	Level = "level"

	// Message is the field name for the log message.
	Message = "message"

	// Error is the field name for error information.
	Error = "error"

	// Component is the field name for the component/package generating the log.
	Component = "component"

	// CacheKey is the field name for the resolved cache key.
	CacheKey = "cache_key"

	// CacheName is the field name for the logical cache (key namespace).
	CacheName = "cache_name"

	// CallSite is the field name for the intercepted call site identifier.
	CallSite = "call_site"

	// Operation is the field name for the cache operation kind (cacheable, put, evict).
	Operation = "operation"

	// Backend is the field name for the store backend (memory, redis, postgres).
	Backend = "backend"

	// LockKey is the field name for a distributed lock key.
	LockKey = "lock_key"

	// Duration is the field name for operation duration.
	Duration = "duration_ms"
)
