// Package mailmind provides a top-level convenience entry point for talking
// to a running copilot daemon with minimal boilerplate.
//
// Usage:
//
//	import "github.com/mailmind/mailmind"
//
//	c := mailmind.Dial("http://127.0.0.1:8790")
//	resp, err := c.Chat(ctx, types.ChatRequest{UserMessage: "Summarize my inbox"})
//
// This is a thin wrapper around [client.New]; use the client package
// directly when you need a custom logger or timeouts.
package mailmind

import (
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/client"
)

// Dial creates a daemon client for baseURL with default settings. An empty
// baseURL targets the local daemon on its default port.
func Dial(baseURL string) *client.Client {
	cfg := client.DefaultConfig()
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return client.New(cfg, zap.NewNop())
}

// NewSurface creates an interaction surface over a freshly dialed client.
func NewSurface(baseURL, sessionID string, renderer client.Renderer) *client.Surface {
	return client.NewSurface(Dial(baseURL), renderer, sessionID, client.DefaultSurfaceConfig(), zap.NewNop())
}
