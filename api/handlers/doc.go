/*
Package handlers implements the HTTP endpoint handlers of the mailmind
daemon: chat (synchronous and WebSocket streaming), engine lifecycle with
SSE load progress, page context and action execution, one-shot analysis
(classify, summarize, analyze-image), the generic envelope endpoint, and
health probes.

All handlers follow the standard net/http interface. Responses share one
envelope (success + data + error + timestamp); errors carry a stable code
that maps deterministically to an HTTP status. The one exception is
/v1/chat, whose ChatResponse is itself the wire contract.
*/
package handlers
