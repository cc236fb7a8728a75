package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"threadex/internal/logging"

	"go.uber.org/zap"
)

const (
	defaultThreadTimeout     = 45 * time.Second
	defaultNavigationTimeout = 45 * time.Second
)

// pendingRequest is the single outstanding waiter of one correlation cycle.
// A nil *pendingRequest is the idle stub: resolving it is a no-op.
type pendingRequest struct {
	seq    uint64
	done   atomic.Bool
	result chan ThreadRecord
}

func newPendingRequest(seq uint64) *pendingRequest {
	return &pendingRequest{seq: seq, result: make(chan ThreadRecord, 1)}
}

// resolve delivers rec if the cycle is still open. Only the first call wins.
func (p *pendingRequest) resolve(rec ThreadRecord) bool {
	if p == nil {
		return false
	}
	if !p.done.CompareAndSwap(false, true) {
		return false
	}
	p.result <- rec
	return true
}

// expire closes the cycle from the timeout/failure side. It returns false
// when resolve got there first, in which case result holds the record.
func (p *pendingRequest) expire() bool {
	return p.done.CompareAndSwap(false, true)
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithThreadTimeout sets how long LoadThread waits for the payload.
func WithThreadTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithNavigationTimeout sets the network-idle wait for thread pages.
func WithNavigationTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		if d > 0 {
			c.navTimeout = d
		}
	}
}

// WithResourceRule overrides the thread payload URL rule.
func WithResourceRule(r ResourceRule) CorrelatorOption {
	return func(c *Correlator) {
		c.rule = r
	}
}

// Correlator reconciles "load this thread page" with the thread payload
// that arrives independently on the session's network stream. The session
// handles one navigation at a time, so there is exactly one slot.
type Correlator struct {
	bus        Bus
	rule       ResourceRule
	timeout    time.Duration
	navTimeout time.Duration
	log        *logging.Logger

	mu          sync.Mutex
	slot        *pendingRequest
	seq         uint64
	unsubscribe func()
}

// NewCorrelator creates a correlator over bus. Call Initialize before
// LoadThread.
func NewCorrelator(bus Bus, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		bus:        bus,
		rule:       DefaultResourceRule,
		timeout:    defaultThreadTimeout,
		navTimeout: defaultNavigationTimeout,
		log:        logging.Get(logging.CategoryCorrelator),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize subscribes to the exchange stream. It is safe to call more
// than once; only the first call subscribes.
func (c *Correlator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return nil
	}
	unsubscribe, err := c.bus.Subscribe(ctx, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe to network stream: %w", err)
	}
	c.unsubscribe = unsubscribe
	return nil
}

// Close drops the subscription.
func (c *Correlator) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// handle runs for every observed exchange. Unrelated, stale or duplicate
// traffic is expected here and must never fail the subscription.
func (c *Correlator) handle(ex Exchange) {
	id, ok := c.rule.Match(ex.Method, ex.URL)
	if !ok || ex.Body == nil {
		return
	}

	body, err := ex.Body()
	if err != nil {
		c.log.Debug("could not read response for %s: %v", id, err)
		return
	}
	payload, err := DecodePayload(body)
	if err != nil {
		c.log.Debug("could not parse response for %s: %v", id, err)
		return
	}
	if !hasEntries(body) {
		return
	}

	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()

	if slot.resolve(ThreadRecord{ID: id, Payload: payload}) {
		c.log.Info("received API data for thread %s", id)
	} else {
		c.log.Debug("dropped API data for thread %s (no pending load)", id)
	}
}

// acquire installs a fresh slot for a new cycle. The returned release func
// resets the slot to the idle stub and must run on every exit path.
func (c *Correlator) acquire() (*pendingRequest, func()) {
	c.mu.Lock()
	c.seq++
	p := newPendingRequest(c.seq)
	c.slot = p
	c.mu.Unlock()

	return p, func() {
		c.mu.Lock()
		if c.slot == p {
			c.slot = nil
		}
		c.mu.Unlock()
	}
}

// LoadThread navigates to a thread page and returns the payload observed on
// the network stream, using the configured timeout.
func (c *Correlator) LoadThread(ctx context.Context, pageURL string) (ThreadRecord, error) {
	return c.LoadThreadTimeout(ctx, pageURL, c.timeout)
}

// LoadThreadTimeout is LoadThread with an explicit timeout. A timeout or a
// failed navigation degrades to a placeholder record; the only error is
// cancellation of ctx.
func (c *Correlator) LoadThreadTimeout(ctx context.Context, pageURL string, timeout time.Duration) (ThreadRecord, error) {
	if err := ctx.Err(); err != nil {
		return ThreadRecord{}, err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	p, release := c.acquire()
	defer release()

	log := c.log.With(zap.Uint64("cycle", p.seq), zap.String("url", pageURL))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The timeout only abandons the wait; navigation finishes on its own.
	navErr := make(chan error, 1)
	go func() {
		log.Debug("loading thread page")
		navErr <- c.bus.Navigate(ctx, pageURL, c.navTimeout)
	}()

	var cause error
	for cause == nil {
		select {
		case rec := <-p.result:
			log.Debug("got API response with %d entries", len(rec.Payload.Entries))
			return rec, nil

		case <-timer.C:
			cause = fmt.Errorf("%w after %v", ErrCorrelationTimeout, timeout)

		case err := <-navErr:
			if err != nil {
				cause = fmt.Errorf("navigation failed: %w", err)
				break
			}
			log.Debug("page loaded, waiting for API response")
			navErr = nil

		case <-ctx.Done():
			p.expire()
			return ThreadRecord{}, ctx.Err()
		}
	}

	if !p.expire() {
		// resolve won the race; the record is already buffered.
		return <-p.result, nil
	}

	rec := PlaceholderRecord(pageURL)
	if errors.Is(cause, ErrCorrelationTimeout) {
		log.Warn("timeout reached (%v), using placeholder %s", timeout, rec.ID)
	} else {
		log.Warn("could not get API response (%v), using placeholder %s", cause, rec.ID)
	}
	return rec, nil
}
