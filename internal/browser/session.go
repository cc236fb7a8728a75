// Package browser drives a single Chrome page over the DevTools protocol.
// The Session type is both the exchange bus the correlator listens on and
// the DOM surface the discovery loop scrolls.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"threadex/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrNotStarted is returned by page operations before Start.
var ErrNotStarted = errors.New("browser session not started")

// Config holds browser configuration.
type Config struct {
	ChromeBin         string
	DebuggerURL       string
	Flags             []string
	UserDataDir       string
	Headless          bool
	Stealth           bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          false,
		Stealth:           true,
		ViewportWidth:     1440,
		ViewportHeight:    900,
		NavigationTimeout: 45 * time.Second,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth <= 0 {
		return 1440
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight <= 0 {
		return 900
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 45 * time.Second
	}
	return c.NavigationTimeout
}

// parseFlag splits "--name=value" into a launcher flag and its values.
func parseFlag(raw string) (flags.Flag, []string, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(raw), "-")
	if trimmed == "" {
		return "", nil, false
	}
	name, val, hasVal := strings.Cut(trimmed, "=")
	if !hasVal {
		return flags.Flag(name), nil, true
	}
	return flags.Flag(name), []string{val}, true
}

// Session owns the Chrome process (when launched here) and the one page all
// work happens on.
type Session struct {
	cfg Config
	log *logging.Logger

	mu         sync.RWMutex
	launch     *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
}

// NewSession creates a session; nothing is launched until Start.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg: cfg,
		log: logging.Get(logging.CategoryBrowser),
	}
}

// Start connects to an existing Chrome or launches a new one, then opens
// the working page.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		s.log.Warn("stale browser connection detected, reconnecting")
		s.closeLocked()
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		l := s.newLauncher()
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		s.launch = l
		controlURL = url
		s.log.Info("launched chrome (headless=%v)", s.cfg.Headless)
	} else {
		s.log.Info("attaching to chrome at %s", controlURL)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.killLauncherLocked()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := s.openPage(b)
	if err != nil {
		_ = b.Close()
		s.killLauncherLocked()
		return err
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.log.Warn("failed to set viewport: %v", err)
	}

	s.browser = b
	s.page = page
	s.controlURL = controlURL
	return nil
}

func (s *Session) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.ChromeBin != "" {
		l = l.Bin(s.cfg.ChromeBin)
	}
	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	for _, raw := range s.cfg.Flags {
		name, vals, ok := parseFlag(raw)
		if !ok {
			continue
		}
		l = l.Set(name, vals...)
	}
	return l
}

func (s *Session) openPage(b *rod.Browser) (*rod.Page, error) {
	if s.cfg.Stealth {
		page, err := stealth.Page(b)
		if err != nil {
			return nil, fmt.Errorf("create stealth page: %w", err)
		}
		return page, nil
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return page, nil
}

// ControlURL returns the DevTools WebSocket URL.
func (s *Session) ControlURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlURL
}

// Shutdown closes the page and, when Chrome was launched by this session,
// the browser process. An attached browser is left running.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	var err error
	if s.page != nil {
		if s.launch == nil {
			err = s.page.Close()
		}
		s.page = nil
	}
	if s.browser != nil && s.launch != nil {
		err = s.browser.Close()
	}
	s.browser = nil
	s.controlURL = ""
	s.killLauncherLocked()
	return err
}

func (s *Session) killLauncherLocked() {
	if s.launch == nil {
		return
	}
	s.launch.Kill()
	if s.cfg.UserDataDir == "" {
		s.launch.Cleanup()
	}
	s.launch = nil
}

func (s *Session) currentPage() (*rod.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.page == nil {
		return nil, ErrNotStarted
	}
	return s.page, nil
}

// Navigate loads url and waits until the network goes idle or timeout
// elapses.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.cfg.GetNavigationTimeout()
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := page.Context(navCtx)

	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("wait for network idle on %s: %w", url, err)
	}
	return nil
}

// Evaluate runs a JS function on the page and returns its JSON value.
func (s *Session) Evaluate(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation result: %w", err)
	}
	return raw, nil
}

// WaitForSelector waits until selector matches an element.
func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := page.Context(waitCtx).Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("snapshot page html: %w", err)
	}
	return html, nil
}

// URL returns the current page URL, or "" when unknown.
func (s *Session) URL() string {
	page, err := s.currentPage()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}
