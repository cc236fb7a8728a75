package export

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SelectorStrategy is one way to find thread links on the library page. The
// matched element, or its closest <a> ancestor, must carry an href.
type SelectorStrategy struct {
	Name     string
	Selector string
}

// fallbackStrategy is tried after every configured strategy.
var fallbackStrategy = SelectorStrategy{
	Name:     "any-thread-link",
	Selector: `a[href*="/search/"], a[href*="/thread/"]`,
}

// StrategiesFromSelectors wraps plain CSS selectors, keeping their order.
func StrategiesFromSelectors(selectors []string) []SelectorStrategy {
	out := make([]SelectorStrategy, 0, len(selectors))
	for _, s := range selectors {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, SelectorStrategy{Name: s, Selector: s})
	}
	return out
}

// Find returns the links matched by the strategy in document order.
// Elements without a resolvable link are skipped.
func (s SelectorStrategy) Find(doc *goquery.Document, base *url.URL) []DiscoveryItem {
	var items []DiscoveryItem
	doc.Find(s.Selector).Each(func(_ int, sel *goquery.Selection) {
		link := sel.Closest("a")
		if link.Length() == 0 {
			return
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := resolveHref(base, href)
		if err != nil {
			return
		}
		items = append(items, DiscoveryItem{
			Title: strings.TrimSpace(link.Text()),
			URL:   resolved,
		})
	})
	return items
}

func resolveHref(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String(), nil
}

// dedupe collapses items sharing a URL, keeping the first, and fills in the
// default title.
func dedupe(items []DiscoveryItem) []DiscoveryItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]DiscoveryItem, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.URL]; dup {
			continue
		}
		seen[it.URL] = struct{}{}
		if it.Title == "" {
			it.Title = "Untitled"
		}
		out = append(out, it)
	}
	return out
}
