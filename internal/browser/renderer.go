// Package browser renders JavaScript-heavy pages in headless Chrome for
// sources that cannot be read from plain HTTP responses.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"trustaudit/internal/logging"
)

// Config holds browser launch settings.
type Config struct {
	Headless            bool   `json:"headless"`
	Bin                 string `json:"bin"`          // optional Chrome binary
	DebuggerURL         string `json:"debugger_url"` // connect instead of launching
	UserAgent           string `json:"user_agent"`
	ViewportWidth       int    `json:"viewport_width"`
	ViewportHeight      int    `json:"viewport_height"`
	NavigationTimeoutMs int    `json:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1366,
		ViewportHeight:      900,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1366
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Renderer owns one Chrome instance. Each Render call gets its own
// incognito context so cookies never leak between subjects.
type Renderer struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
}

// NewRenderer creates a renderer. Chrome starts lazily on first use.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return nil
		}
		logging.Get(logging.CategorySources).Warn("Stale browser connection detected, reconnecting")
		_ = r.browser.Close()
		r.browser = nil
		r.controlURL = ""
	}

	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(r.cfg.Headless)
		if r.cfg.Bin != "" {
			launch = launch.Bin(r.cfg.Bin)
		}
		u, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	r.browser = browser
	r.controlURL = controlURL
	logging.SourcesDebug("Browser connected at %s", controlURL)
	return nil
}

func (r *Renderer) ensureStarted(ctx context.Context) error {
	r.mu.RLock()
	started := r.browser != nil
	r.mu.RUnlock()
	if started {
		return nil
	}
	return r.Start(ctx)
}

// IsConnected returns whether the browser is connected.
func (r *Renderer) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.browser != nil
}

// Shutdown closes the browser.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	r.controlURL = ""
	return err
}

// Render navigates to url, waits for the load event and returns the DOM as HTML.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	if err := r.ensureStarted(ctx); err != nil {
		return "", err
	}

	r.mu.RLock()
	browser := r.browser
	r.mu.RUnlock()
	if browser == nil {
		return "", errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.GetViewportWidth(),
		Height:            r.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.SourcesDebug("failed to set viewport: %v", err)
	}
	if r.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			logging.SourcesDebug("failed to set user agent: %v", err)
		}
	}

	p := page.Context(ctx).Timeout(r.cfg.NavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read DOM %s: %w", url, err)
	}
	return html, nil
}
