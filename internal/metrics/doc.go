/*
Package metrics provides Prometheus instrumentation for the daemon: the HTTP
surface, the chat pipeline (sync and streaming), engine loads and inference,
page-action dispatches, and the flag store.

Instruments are registered through promauto under a configurable namespace
so that multiple processes can share one Pushgateway or scrape target
without collisions.
*/
package metrics
