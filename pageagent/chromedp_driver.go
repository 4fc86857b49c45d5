package pageagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// DriverConfig configures the chromedp attachment to the webmail tab.
type DriverConfig struct {
	// RemoteURL attaches to an already running browser (DevTools endpoint).
	// When empty, a headless instance is launched instead.
	RemoteURL string `yaml:"remote_url" json:"remote_url"`

	// StartURL is opened when launching a browser locally.
	StartURL string `yaml:"start_url" json:"start_url"`

	Headless       bool          `yaml:"headless" json:"headless"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`

	// OpTimeout bounds every single DOM operation, so a missing element
	// turns into an error result instead of a hung handler.
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`
}

// DefaultDriverConfig returns driver defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		OpTimeout:      3 * time.Second,
	}
}

// ChromeDriver implements Driver over chromedp.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         DriverConfig
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewChromeDriver launches or attaches to a browser.
func NewChromeDriver(cfg DriverConfig, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 3 * time.Second
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d := &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "chrome_driver")),
	}

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if cfg.RemoteURL == "" && cfg.StartURL != "" {
		if err := chromedp.Run(browserCtx, chromedp.Navigate(cfg.StartURL)); err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("open %s: %w", cfg.StartURL, err)
		}
	}

	logger.Info("browser attached",
		zap.Bool("headless", cfg.Headless),
		zap.String("remote", cfg.RemoteURL),
	)
	return d, nil
}

// run executes actions with the per-operation timeout applied.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	opCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	// Honor the caller's cancellation as well as the op deadline.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Evaluate implements Driver.
func (d *ChromeDriver) Evaluate(ctx context.Context, expr string, out any) error {
	return d.run(ctx, d.cfg.OpTimeout, chromedp.Evaluate(expr, out))
}

// Click implements Driver.
func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, d.cfg.OpTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

// SendKeys implements Driver.
func (d *ChromeDriver) SendKeys(ctx context.Context, selector, text string) error {
	return d.run(ctx, d.cfg.OpTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// WaitVisible implements Driver. chromedp polls the DOM internally, so the
// bounded timeout is the whole confirm phase.
func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.cfg.OpTimeout
	}
	return d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Scroll implements Driver.
func (d *ChromeDriver) Scroll(ctx context.Context, deltaY int) error {
	return d.run(ctx, d.cfg.OpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, 0, 0).
			WithDeltaY(float64(deltaY)).Do(ctx)
	}))
}

// Screenshot implements Driver.
func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.FullScreenshot(&buf, 85)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("closing browser")
	d.cancel()
	d.allocCancel()
	return nil
}
