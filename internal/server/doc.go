/*
Package server manages the copilot daemon's HTTP/HTTPS listener: non-blocking
start, graceful shutdown, and SIGINT/SIGTERM handling.

Manager wraps net/http.Server and keeps the lifecycle in one place. Start and
StartTLS serve in a background goroutine; Shutdown drains in-flight requests
within a configured timeout; WaitForShutdown blocks the main goroutine until a
signal or an asynchronous serve error arrives. Errors() exposes serve failures
for callers that supervise the daemon themselves.

The default WriteTimeout is zero because the chat WebSocket stream and the
engine-load SSE endpoint keep a single response open for the lifetime of a
generation or a model download.
*/
package server
