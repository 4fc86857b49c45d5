/*
Package client is the interaction surface's side of the daemon contract.

Client wraps the HTTP/WS endpoints: synchronous chat, streaming chat over
WebSocket, engine loading with SSE progress relay, engine status, page
context and actions, and the one-shot analysis calls. Errors decoded from
the response envelope come back as *types.Error so callers can branch on
the error code.

Surface layers the UI gating on top of Client: a ready flag driven by
engine status, a busy flag held for the duration of one request, duplicate
submission debouncing, canned quick-action phrases, and wholesale
replacement rendering of streaming frames (each chunk carries the full
accumulated text, never a delta).
*/
package client
