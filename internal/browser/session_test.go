package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"threadex/internal/export"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var zero Config
	assert.Equal(t, 1440, zero.GetViewportWidth())
	assert.Equal(t, 900, zero.GetViewportHeight())
	assert.Equal(t, 45*time.Second, zero.GetNavigationTimeout())

	cfg := DefaultConfig()
	assert.False(t, cfg.Headless)
	assert.True(t, cfg.Stealth)

	cfg.ViewportWidth = 800
	cfg.NavigationTimeout = time.Second
	assert.Equal(t, 800, cfg.GetViewportWidth())
	assert.Equal(t, time.Second, cfg.GetNavigationTimeout())
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		raw    string
		name   flags.Flag
		values []string
		ok     bool
	}{
		{"--disable-gpu", "disable-gpu", nil, true},
		{"--window-size=1440,900", "window-size", []string{"1440,900"}, true},
		{"lang=en-US", "lang", []string{"en-US"}, true},
		{"  --proxy-server=http://127.0.0.1:8080 ", "proxy-server", []string{"http://127.0.0.1:8080"}, true},
		{"--", "", nil, false},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		name, values, ok := parseFlag(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.name, name, tt.raw)
		assert.Equal(t, tt.values, values, tt.raw)
	}
}

func TestSessionNotStarted(t *testing.T) {
	s := NewSession(DefaultConfig())
	ctx := context.Background()

	assert.ErrorIs(t, s.Navigate(ctx, "https://example.com", time.Second), ErrNotStarted)
	_, err := s.Evaluate(ctx, "() => 1")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = s.HTML(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.WaitForSelector(ctx, "body", time.Second), ErrNotStarted)
	_, err = s.Subscribe(ctx, func(export.Exchange) {})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.Login(ctx, LoginOptions{Email: "a@b.c"}), ErrNotStarted)
	assert.Equal(t, "", s.URL())
	assert.Equal(t, "", s.ControlURL())
	assert.NoError(t, s.Shutdown())
}

func TestLoginRequiresEmail(t *testing.T) {
	s := NewSession(DefaultConfig())
	err := s.Login(context.Background(), LoginOptions{})
	assert.ErrorContains(t, err, "email")
}

func TestDispatcherPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := newDispatcher(func(ex export.Exchange) {
		mu.Lock()
		got = append(got, ex.URL)
		mu.Unlock()
	})
	go d.run()

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		u := fmt.Sprintf("https://x/%d", i)
		want = append(want, u)
		d.push(export.Exchange{URL: u})
	}
	d.close()
	<-d.done

	assert.Equal(t, want, got)
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	calls := 0
	d := newDispatcher(func(export.Exchange) { calls++ })
	go d.run()
	d.close()
	<-d.done

	d.push(export.Exchange{URL: "late"})
	assert.Equal(t, 0, calls)
}

func TestExchangeTrackerJoinsEvents(t *testing.T) {
	tr := newExchangeTracker(nil)

	tr.request(&proto.NetworkRequestWillBeSent{
		RequestID: "1",
		Request:   &proto.NetworkRequest{Method: "GET", URL: "https://x/rest/thread/abc?limit=20"},
	})
	tr.response(&proto.NetworkResponseReceived{
		RequestID: "1",
		Response:  &proto.NetworkResponse{Status: 200, MIMEType: "application/json"},
	})
	ex, ok := tr.finished("1")
	require.True(t, ok)
	assert.Equal(t, "GET", ex.Method)
	assert.Equal(t, "https://x/rest/thread/abc?limit=20", ex.URL)
	assert.Equal(t, 200, ex.Status)
	assert.Equal(t, "application/json", ex.MIMEType)
	assert.NotNil(t, ex.Body)
	assert.Empty(t, tr.inflight)

	// No response seen: nothing to report.
	tr.request(&proto.NetworkRequestWillBeSent{RequestID: "2", Request: &proto.NetworkRequest{Method: "GET"}})
	_, ok = tr.finished("2")
	assert.False(t, ok)

	// Failed loads are dropped.
	tr.request(&proto.NetworkRequestWillBeSent{RequestID: "3", Request: &proto.NetworkRequest{Method: "GET"}})
	tr.forget("3")
	assert.Empty(t, tr.inflight)

	_, ok = tr.finished("unknown")
	assert.False(t, ok)
}
