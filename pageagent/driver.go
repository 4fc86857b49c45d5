package pageagent

import (
	"context"
	"time"
)

// Driver abstracts a live browser page. The chromedp implementation talks
// to a real tab; tests use an in-memory fake.
type Driver interface {
	// Evaluate runs a JavaScript expression in the page and unmarshals its
	// JSON result into out.
	Evaluate(ctx context.Context, expr string, out any) error

	// Click clicks the first element matching the CSS selector.
	Click(ctx context.Context, selector string) error

	// SendKeys types text into the element matching the CSS selector.
	SendKeys(ctx context.Context, selector, text string) error

	// WaitVisible polls until an element matching the selector is visible
	// or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Scroll scrolls the page vertically by deltaY pixels.
	Scroll(ctx context.Context, deltaY int) error

	// Screenshot captures the visible page.
	Screenshot(ctx context.Context) ([]byte, error)
}
