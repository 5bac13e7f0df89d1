/*
Package log provides structured logging for Switchyard using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initializing the logger:

	import "github.com/cuemby/switchyard/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      "info",
		JSONOutput: true,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      "debug",
		JSONOutput: false,
	})

Component loggers:

	logger := log.WithComponent("resolver")
	logger.Info().Str("key", "cache").Msg("candidate registered")

Plug-point loggers:

	logger := log.WithRef(types.Ref{Domain: types.DomainAdapter, Key: "cache"})
	logger.Warn().Msg("health check failed")

The swap engine, watchers, and manifest loader each create a component child
logger at construction; per-operation fields (domain, key, provider) are added
at the call site.
*/
package log
