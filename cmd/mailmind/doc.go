/*
Package main is the mailmind daemon entry point.

Subcommands: serve (start the daemon), version, health (probe a running
daemon). serve loads configuration (defaults, YAML file, MAILMIND_* env
overrides), builds the engine registry for the configured mode (local
runtime or offscreen proxy), attaches the browser driver when one is
reachable, and serves the HTTP/WS surface behind a middleware chain of
Recovery, RequestID, RequestLogger, MetricsMiddleware, RateLimiter and
APIKeyAuth. Prometheus metrics are exposed on a separate listener, and
Version/BuildTime/GitCommit are injected with ldflags.
*/
package main
