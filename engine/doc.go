// Package engine wraps local inference runtimes behind a uniform
// load/generate/status capability.
//
// Each engine kind (generation, classification, ocr) is an independent
// session singleton managed by a Registry: created lazily on first use,
// loaded exactly once even under concurrent demand, and discarded when the
// underlying runtime reports the session invalid. Generation calls against
// one engine are serialized — most local runtimes cannot serve concurrent
// generations.
//
// Two implementations exist: a local HTTP runtime adapter and an offscreen
// proxy that forwards the same contract over a WebSocket to a helper
// process hosting accelerated compute.
package engine
