// Package export implements the acquisition engine: the response correlator
// that pairs a thread navigation with its asynchronously observed API
// payload, the discovery loop that expands the virtualized library list,
// and the exporter that sequences both with pacing.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// StatusPlaceholder marks a record whose payload could not be obtained.
const StatusPlaceholder = "placeholder"

var (
	// ErrDiscoveryExhausted means no selector strategy matched any element on
	// the library page. The run cannot continue without an initial list.
	ErrDiscoveryExhausted = errors.New("no conversation threads found")

	// ErrCorrelationTimeout means no matching payload arrived in time. It is
	// never returned to callers; the cycle degrades to a placeholder.
	ErrCorrelationTimeout = errors.New("timed out waiting for thread data")

	// ErrMalformedPayload means a thread response body is not valid JSON.
	ErrMalformedPayload = errors.New("malformed thread payload")
)

// Exchange is one observed request/response pair from the browser session.
type Exchange struct {
	Method   string
	URL      string
	Status   int
	MIMEType string

	// Body fetches the response body. It is only called for exchanges that
	// pass the URL filter.
	Body func() ([]byte, error)
}

// Bus is the notification stream and navigation capability of a browser
// session.
type Bus interface {
	// Subscribe registers fn for every observed exchange, in arrival order,
	// until the returned unsubscribe func is called or ctx ends.
	Subscribe(ctx context.Context, fn func(Exchange)) (unsubscribe func(), err error)

	// Navigate loads url and waits for the network to go idle.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
}

// Page is the DOM capability the discovery loop drives.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Evaluate(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	URL() string
}

// ConversationPayload is the thread API response. The decoded body is kept
// verbatim so the structured export carries every upstream field.
type ConversationPayload struct {
	Status      string            `json:"status"`
	Entries     []json.RawMessage `json:"entries"`
	HasNextPage bool              `json:"has_next_page"`
	NextCursor  *string           `json:"next_cursor"`

	raw json.RawMessage
}

type payloadFields ConversationPayload

// DecodePayload reads a thread API response body. The body must be
// well-formed JSON; the typed fields are read leniently so an unexpected
// shape in one of them never rejects the payload.
func DecodePayload(body []byte) (ConversationPayload, error) {
	if !gjson.ValidBytes(body) {
		return ConversationPayload{}, ErrMalformedPayload
	}
	doc := gjson.ParseBytes(body)

	p := ConversationPayload{
		Status:      scalarString(doc.Get("status")),
		HasNextPage: doc.Get("has_next_page").Bool(),
		raw:         append(json.RawMessage(nil), body...),
	}
	if c := doc.Get("next_cursor"); c.Type == gjson.String {
		cursor := c.Str
		p.NextCursor = &cursor
	}
	if entries := doc.Get("entries"); entries.IsArray() {
		p.Entries = make([]json.RawMessage, 0, len(entries.Array()))
		entries.ForEach(func(_, e gjson.Result) bool {
			p.Entries = append(p.Entries, json.RawMessage(e.Raw))
			return true
		})
	}
	return p, nil
}

func scalarString(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number, gjson.True, gjson.False:
		return r.Raw
	default:
		return ""
	}
}

// hasEntries reports whether body carries a non-null entries field.
func hasEntries(body []byte) bool {
	r := gjson.GetBytes(body, "entries")
	return r.Exists() && r.Type != gjson.Null
}

// PlaceholderPayload returns the empty, well-formed payload substituted when
// real data cannot be obtained in time.
func PlaceholderPayload() ConversationPayload {
	return ConversationPayload{
		Status:      StatusPlaceholder,
		Entries:     []json.RawMessage{},
		HasNextPage: false,
		NextCursor:  nil,
	}
}

// MarshalJSON writes the original body when there is one.
func (p ConversationPayload) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	fields := payloadFields(p)
	if fields.Entries == nil {
		fields.Entries = []json.RawMessage{}
	}
	return json.Marshal(fields)
}

// Raw returns the verbatim response body, or nil for placeholders.
func (p ConversationPayload) Raw() json.RawMessage {
	return p.raw
}

// IsPlaceholder reports whether the payload is a degraded substitute.
func (p ConversationPayload) IsPlaceholder() bool {
	return p.Status == StatusPlaceholder
}

// ThreadRecord pairs a thread id (taken from the resource URL) with its
// payload.
type ThreadRecord struct {
	ID      string
	Payload ConversationPayload
}

// PlaceholderRecord builds the degraded record for a thread page URL.
func PlaceholderRecord(pageURL string) ThreadRecord {
	return ThreadRecord{ID: ThreadIDFromURL(pageURL), Payload: PlaceholderPayload()}
}

// DiscoveryItem is one conversation link found on the library page.
type DiscoveryItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DoneLookup answers whether a URL was processed by an earlier run.
type DoneLookup interface {
	Contains(url string) bool
}

// DoneSet is the durable, append-only record of processed URLs.
type DoneSet interface {
	DoneLookup
	Add(url string)
	Save() error
}

// ThreadSink persists one exported thread.
type ThreadSink interface {
	SaveThread(ctx context.Context, item DiscoveryItem, rec ThreadRecord) error
}
