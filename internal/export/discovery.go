package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"threadex/internal/logging"

	"github.com/PuerkitoBio/goquery"
)

// Mode selects the discovery policy.
type Mode string

const (
	// ModeShortCircuit stops scrolling as soon as an already exported thread
	// is rendered.
	ModeShortCircuit Mode = "short_circuit"
	// ModeExhaustive always scrolls to the end and filters afterwards.
	ModeExhaustive Mode = "exhaustive"
)

// StopReason records why the scroll loop ended. None of them is an error.
type StopReason string

const (
	StopStalled     StopReason = "stalled"
	StopMaxAttempts StopReason = "max_attempts"
	StopKnownItem   StopReason = "known_item"
)

// extentJS reads the scrollable height of the library container.
const extentJS = `() => {
	const el = document.querySelector("div.scrollable-container") ||
		document.querySelector('[role="main"]') ||
		document.body;
	return (el && el.scrollHeight) || document.documentElement.scrollHeight;
}`

// scrollJS scrolls the library container to its current extent.
const scrollJS = `() => {
	const el = document.querySelector("div.scrollable-container") ||
		document.querySelector('[role="main"]') ||
		document.documentElement;
	if (el) {
		el.scrollTo(0, el.scrollHeight);
	}
	return true;
}`

// DiscoveryOptions configures a Discoverer. Zero values take defaults.
type DiscoveryOptions struct {
	LibraryURL        string
	Mode              Mode
	MaxAttempts       int
	MaxStall          int
	SettleDelay       time.Duration
	SelectorTimeout   time.Duration
	NavigationTimeout time.Duration
	Strategies        []SelectorStrategy
}

func (o DiscoveryOptions) withDefaults() DiscoveryOptions {
	if o.Mode == "" {
		o.Mode = ModeShortCircuit
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 100
	}
	if o.MaxStall <= 0 {
		o.MaxStall = 5
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 5 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = defaultNavigationTimeout
	}
	return o
}

// ScrollResult summarizes one run of the scroll loop.
type ScrollResult struct {
	Attempts int
	Extent   float64
	Reason   StopReason
}

// Discoverer surfaces the full library list by scrolling the virtualized
// container until its extent stops growing.
type Discoverer struct {
	page Page
	opts DiscoveryOptions
	log  *logging.Logger
}

// NewDiscoverer creates a discoverer driving page.
func NewDiscoverer(page Page, opts DiscoveryOptions) *Discoverer {
	return &Discoverer{
		page: page,
		opts: opts.withDefaults(),
		log:  logging.Get(logging.CategoryDiscovery),
	}
}

// Discover loads the library, expands it and returns the threads not in
// done, oldest first. An empty result is valid. ErrDiscoveryExhausted is
// returned when no strategy matches anything.
func (d *Discoverer) Discover(ctx context.Context, done DoneLookup) ([]DiscoveryItem, error) {
	if d.opts.LibraryURL != "" {
		d.log.Info("navigating to library %s", d.opts.LibraryURL)
		if err := d.page.Navigate(ctx, d.opts.LibraryURL, d.opts.NavigationTimeout); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Readiness is decided by the selector wait below.
			d.log.Warn("library page did not settle: %v", err)
		}
	}

	if _, err := d.waitReady(ctx); err != nil {
		return nil, err
	}

	if _, err := d.Expand(ctx, done); err != nil {
		return nil, err
	}

	items, err := d.Extract(ctx)
	if err != nil {
		return nil, err
	}

	fresh := make([]DiscoveryItem, 0, len(items))
	for _, it := range items {
		if done != nil && done.Contains(it.URL) {
			continue
		}
		fresh = append(fresh, it)
	}
	// The library renders newest first.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	d.log.Info("found %d threads, %d new", len(items), len(fresh))
	return fresh, nil
}

// waitReady returns the first strategy whose selector appears on the page.
func (d *Discoverer) waitReady(ctx context.Context) (SelectorStrategy, error) {
	for _, s := range d.strategies() {
		if err := d.page.WaitForSelector(ctx, s.Selector, d.opts.SelectorTimeout); err != nil {
			if ctx.Err() != nil {
				return SelectorStrategy{}, ctx.Err()
			}
			d.log.Debug("selector %q not found: %v", s.Selector, err)
			continue
		}
		d.log.Info("found threads with selector: %s", s.Selector)
		return s, nil
	}
	return SelectorStrategy{}, fmt.Errorf("%w on %s", ErrDiscoveryExhausted, d.page.URL())
}

// Expand scrolls the library until the extent is unchanged for MaxStall
// consecutive polls, MaxAttempts is reached, or (in short-circuit mode) a
// thread from done is rendered.
func (d *Discoverer) Expand(ctx context.Context, done DoneLookup) (ScrollResult, error) {
	current := d.readExtent(ctx)
	stall := 0
	attempts := 0
	reason := StopMaxAttempts

	for attempts < d.opts.MaxAttempts {
		if d.opts.Mode == ModeShortCircuit && d.knownItemRendered(ctx, done) {
			reason = StopKnownItem
			break
		}

		if _, err := d.page.Evaluate(ctx, scrollJS); err != nil {
			if ctx.Err() != nil {
				return ScrollResult{}, ctx.Err()
			}
			d.log.Warn("scroll failed: %v", err)
		}

		if err := sleepCtx(ctx, d.opts.SettleDelay); err != nil {
			return ScrollResult{}, err
		}

		previous := current
		current = d.readExtent(ctx)
		attempts++

		if current == previous {
			stall++
			d.log.Debug("no new content loaded (attempt %d/%d)", stall, d.opts.MaxStall)
			if stall >= d.opts.MaxStall {
				reason = StopStalled
				break
			}
		} else {
			stall = 0
			d.log.Debug("scrolled to height: %.0f", current)
		}
	}

	switch reason {
	case StopStalled:
		d.log.Info("reached end of library after %d scrolls (no new content)", attempts)
	case StopKnownItem:
		d.log.Info("reached already exported threads after %d scrolls", attempts)
	default:
		d.log.Info("reached maximum scroll attempts (%d), proceeding with found threads", attempts)
	}
	return ScrollResult{Attempts: attempts, Extent: current, Reason: reason}, nil
}

// readExtent returns the container height, or -1 when it cannot be read so
// that repeated failures count as stalls.
func (d *Discoverer) readExtent(ctx context.Context) float64 {
	raw, err := d.page.Evaluate(ctx, extentJS)
	if err != nil {
		d.log.Warn("could not read scroll height: %v", err)
		return -1
	}
	var h float64
	if err := json.Unmarshal(raw, &h); err != nil {
		d.log.Warn("unexpected scroll height %s: %v", raw, err)
		return -1
	}
	return h
}

func (d *Discoverer) knownItemRendered(ctx context.Context, done DoneLookup) bool {
	if done == nil {
		return false
	}
	items, err := d.Extract(ctx)
	if err != nil {
		return false
	}
	for _, it := range items {
		if done.Contains(it.URL) {
			d.log.Debug("already exported thread rendered: %s", it.URL)
			return true
		}
	}
	return false
}

// Extract snapshots the page and returns the deduplicated links of the first
// strategy that yields any.
func (d *Discoverer) Extract(ctx context.Context) ([]DiscoveryItem, error) {
	html, err := d.page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot library page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse library page: %w", err)
	}

	var base *url.URL
	if raw := d.page.URL(); raw != "" {
		base, _ = url.Parse(raw)
	}

	for _, s := range append(d.strategies(), fallbackStrategy) {
		if items := s.Find(doc, base); len(items) > 0 {
			return dedupe(items), nil
		}
	}
	return nil, fmt.Errorf("%w on %s", ErrDiscoveryExhausted, d.page.URL())
}

func (d *Discoverer) strategies() []SelectorStrategy {
	if len(d.opts.Strategies) > 0 {
		return d.opts.Strategies
	}
	return defaultStrategies
}

var defaultStrategies = StrategiesFromSelectors([]string{
	`div[data-testid="thread-title"]`,
	`a[href*="/search/"]`,
	`a[href*="/thread/"]`,
	`[role="listitem"] a`,
	`.thread-item`,
	`div[class*="thread"] a`,
})

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
