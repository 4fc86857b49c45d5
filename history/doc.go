// Package history persists chat transcripts in a local SQLite database so
// a session survives daemon restarts. One Conversation row per session ID,
// with ordered Message rows underneath; the schema migrates automatically
// on open.
package history
