package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBus is an in-memory Bus. onNavigate runs inside Navigate, so it can
// emit exchanges the way a page load would.
type fakeBus struct {
	mu         sync.Mutex
	handler    func(Exchange)
	navigated  []string
	onNavigate func(ctx context.Context, url string) error
	subErr     error
	subscribed int
}

func (b *fakeBus) Subscribe(_ context.Context, fn func(Exchange)) (func(), error) {
	if b.subErr != nil {
		return nil, b.subErr
	}
	b.mu.Lock()
	b.handler = fn
	b.subscribed++
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.handler = nil
		b.mu.Unlock()
	}, nil
}

func (b *fakeBus) Navigate(ctx context.Context, url string, _ time.Duration) error {
	b.mu.Lock()
	b.navigated = append(b.navigated, url)
	hook := b.onNavigate
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, url)
	}
	return nil
}

func (b *fakeBus) emit(ex Exchange) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(ex)
	}
}

func (b *fakeBus) navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigated...)
}

func getExchange(url, body string) Exchange {
	return Exchange{
		Method: "GET",
		URL:    url,
		Status: 200,
		Body:   func() ([]byte, error) { return []byte(body), nil },
	}
}

func threadBody(query string) string {
	return fmt.Sprintf(`{"status":"completed","entries":[{"query_str":%q,"thread_title":%q}],"has_next_page":false,"next_cursor":null}`, query, query)
}

// fakePage serves a static library snapshot and a scripted extent signal.
type fakePage struct {
	mu          sync.Mutex
	url         string
	html        string
	extent      func(read int) float64
	extentReads int
	scrolls     int
	navigated   []string
	navErr      error
	onScroll    func(p *fakePage)
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	return p.navErr
}

func (p *fakePage) Evaluate(_ context.Context, js string, _ ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch js {
	case extentJS:
		h := 0.0
		if p.extent != nil {
			h = p.extent(p.extentReads)
		}
		p.extentReads++
		return json.Marshal(h)
	case scrollJS:
		p.scrolls++
		if p.onScroll != nil {
			p.onScroll(p)
		}
		return json.RawMessage("true"), nil
	}
	return nil, errors.New("unexpected script")
}

func (p *fakePage) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return errors.New("context deadline exceeded")
	}
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) scrollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// libraryHTML renders thread links the way the library lists them.
func libraryHTML(slugs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><div class="scrollable-container">`)
	for _, s := range slugs {
		fmt.Fprintf(&sb, `<a href="/search/%s"><div data-testid="thread-title">Thread %s</div></a>`, s, strings.ToUpper(s))
	}
	sb.WriteString(`</div></body></html>`)
	return sb.String()
}

// memDone is an in-memory DoneSet.
type memDone struct {
	mu    sync.Mutex
	urls  []string
	saves int
	err   error
}

func newMemDone(urls ...string) *memDone {
	return &memDone{urls: append([]string(nil), urls...)}
}

func (d *memDone) Contains(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.urls {
		if u == url {
			return true
		}
	}
	return false
}

func (d *memDone) Add(url string) {
	if d.Contains(url) {
		return
	}
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
}

func (d *memDone) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves++
	return d.err
}

func (d *memDone) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}
