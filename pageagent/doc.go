// Package pageagent reads and mutates a live webmail page through a
// browser driver.
//
// The agent keeps no state between calls: every read re-derives everything
// from the current DOM snapshot, and every action handler is defensive —
// a missing element yields an error result, never a fault that escapes the
// agent boundary. Multi-step actions that open secondary UI (reply
// composition) run as explicit two-phase trigger-then-confirm sequences:
// the follow-up surface is polled for within a bounded deadline rather
// than assumed to render synchronously.
package pageagent
