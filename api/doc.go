// Package api wires the mailmind HTTP surface: route table, method
// enforcement, and handler construction. Handler implementations live in
// the handlers subpackage.
//
// Most endpoints accept and return JSON under /v1. The streaming chat
// endpoint upgrades to WebSocket; engine loading streams progress as
// server-sent events. Authentication, logging, rate limiting and recovery
// are middleware concerns layered on by the daemon entrypoint.
package api
