/*
Package orchestrator coordinates a chat turn end to end: fetch page context
from the webmail agent, build a token-budgeted prompt, run the generation
engine, extract a structured action from the model text, dispatch it back to
the page, and compose the response.

Two delivery modes share the pipeline. HandleChat returns one ChatResponse;
HandleChatStream emits chunk/action/done/error frames where every chunk
carries the full accumulated text so the surface replaces its in-progress
message wholesale.

A strict per-engine busy guard rejects overlapping chat turns with
ENGINE_BUSY instead of queueing them. Session expiry mid-turn is recovered
once: the engine handle is discarded, reloaded, and the turn retried with a
soft notice on the response.
*/
package orchestrator
