package export

import (
	"net/url"
	"regexp"
	"strings"
)

// ResourceRule identifies thread API responses among the session's traffic.
// A URL matches when its path contains one of Markers and its query carries
// PageParam; both are required to exclude unrelated traffic.
type ResourceRule struct {
	Method    string
	Markers   []string
	PageParam string
	Reserved  []string
}

// DefaultResourceRule matches GET /rest/thread/<id>?limit=... and the older
// /api/thread/ variant. list_recent shares the URL shape but is a listing.
var DefaultResourceRule = ResourceRule{
	Method:    "GET",
	Markers:   []string{"/rest/thread/", "/api/thread/"},
	PageParam: "limit",
	Reserved:  []string{"list_recent"},
}

// Match returns the thread id when method and rawURL identify a thread
// payload.
func (r ResourceRule) Match(method, rawURL string) (string, bool) {
	if r.Method != "" && !strings.EqualFold(method, r.Method) {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if r.PageParam != "" && !u.Query().Has(r.PageParam) {
		return "", false
	}

	marker := ""
	for _, m := range r.Markers {
		if strings.Contains(u.Path, m) {
			marker = m
			break
		}
	}
	if marker == "" {
		return "", false
	}

	id := r.extractID(u.Path, marker)
	if id == "" || r.isReserved(id) {
		return "", false
	}
	return id, true
}

func (r ResourceRule) extractID(p, marker string) string {
	_, rest, _ := strings.Cut(p, marker)
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	// Fallback: final path segment, empty for a trailing slash.
	return p[strings.LastIndex(p, "/")+1:]
}

func (r ResourceRule) isReserved(id string) bool {
	for _, reserved := range r.Reserved {
		if id == reserved {
			return true
		}
	}
	return false
}

var threadSegment = regexp.MustCompile(`/thread/([^/?#]+)`)

// ThreadIDFromURL derives a best-effort id for a page URL: the segment after
// /thread/, else the trailing path segment, else "unknown".
func ThreadIDFromURL(rawURL string) string {
	if m := threadSegment.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
