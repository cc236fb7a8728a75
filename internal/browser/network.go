package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"threadex/internal/export"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Subscribe enables the Network domain and reports every finished
// request/response pair to fn, in completion order. fn runs on a dedicated
// goroutine, so it may call back into the page (e.g. to read the body).
func (s *Session) Subscribe(ctx context.Context, fn func(export.Exchange)) (func(), error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	d := newDispatcher(fn)
	go d.run()

	t := newExchangeTracker(page.Context(subCtx))
	wait := page.Context(subCtx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			t.request(ev)
		},
		func(ev *proto.NetworkResponseReceived) {
			t.response(ev)
		},
		func(ev *proto.NetworkLoadingFinished) {
			if ex, ok := t.finished(ev.RequestID); ok {
				d.push(ex)
			}
		},
		func(ev *proto.NetworkLoadingFailed) {
			t.forget(ev.RequestID)
		},
	)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		wait()
		d.close()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-stopped
			<-d.done
		})
	}, nil
}

type pendingExchange struct {
	method   string
	url      string
	status   int
	mimeType string
	answered bool
}

// exchangeTracker joins the three CDP events that describe one request.
// It is only touched from rod's event goroutine.
type exchangeTracker struct {
	page     *rod.Page
	inflight map[proto.NetworkRequestID]*pendingExchange
}

func newExchangeTracker(page *rod.Page) *exchangeTracker {
	return &exchangeTracker{
		page:     page,
		inflight: make(map[proto.NetworkRequestID]*pendingExchange),
	}
}

func (t *exchangeTracker) request(ev *proto.NetworkRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	t.inflight[ev.RequestID] = &pendingExchange{
		method: ev.Request.Method,
		url:    ev.Request.URL,
	}
}

func (t *exchangeTracker) response(ev *proto.NetworkResponseReceived) {
	p, ok := t.inflight[ev.RequestID]
	if !ok || ev.Response == nil {
		return
	}
	p.status = ev.Response.Status
	p.mimeType = ev.Response.MIMEType
	if ev.Response.URL != "" {
		p.url = ev.Response.URL
	}
	p.answered = true
}

func (t *exchangeTracker) finished(id proto.NetworkRequestID) (export.Exchange, bool) {
	p, ok := t.inflight[id]
	delete(t.inflight, id)
	if !ok || !p.answered {
		return export.Exchange{}, false
	}
	page := t.page
	return export.Exchange{
		Method:   p.method,
		URL:      p.url,
		Status:   p.status,
		MIMEType: p.mimeType,
		Body: func() ([]byte, error) {
			return responseBody(page, id)
		},
	}, true
}

func (t *exchangeTracker) forget(id proto.NetworkRequestID) {
	delete(t.inflight, id)
}

func responseBody(page *rod.Page, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

// dispatcher hands exchanges to fn on its own goroutine, preserving order,
// so slow handlers never stall the CDP event loop.
type dispatcher struct {
	fn func(export.Exchange)

	mu     sync.Mutex
	queue  []export.Exchange
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(fn func(export.Exchange)) *dispatcher {
	return &dispatcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) push(ex export.Exchange) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ex)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until close; exchanges queued before close are
// still delivered.
func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ex := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			d.fn(ex)
		}
	}
}
