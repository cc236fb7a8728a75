package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blocksPayload = `{
  "status": "completed",
  "entries": [
    {
      "thread_title": "Why is the sky blue?",
      "query_str": "why is the sky blue",
      "blocks": [
        {"intended_usage": "web_results", "web_result_block": {"web_results": [
          {"name": "Rayleigh scattering", "url": "https://en.wikipedia.org/wiki/Rayleigh_scattering"},
          {"name": "", "url": "https://example.com/sky"},
          {"name": "no url"}
        ]}},
        {"intended_usage": "ask_text", "markdown_block": {"answer": "Because of **Rayleigh scattering**."}}
      ]
    },
    {
      "query_str": "and at sunset?\nin short",
      "text": "{\"answer\": \"Longer path, more red.\"}",
      "web_results": [{"name": "Sunset", "url": "https://example.com/sunset"}]
    }
  ],
  "has_next_page": false,
  "next_cursor": null
}`

func TestMarkdown_Blocks(t *testing.T) {
	md := Markdown([]byte(blocksPayload), "ignored")

	want := `# Why is the sky blue?

## why is the sky blue

Because of **Rayleigh scattering**.

### Sources

1. [Rayleigh scattering](https://en.wikipedia.org/wiki/Rayleigh_scattering)
2. [https://example.com/sky](https://example.com/sky)

---

## and at sunset? in short

Longer path, more red.

### Sources

1. [Sunset](https://example.com/sunset)
`
	assert.Equal(t, want, md)
}

func TestMarkdown_Placeholder(t *testing.T) {
	md := Markdown([]byte(`{"status":"placeholder","entries":[],"has_next_page":false,"next_cursor":null}`), "My thread")
	assert.True(t, strings.HasPrefix(md, "# My thread\n\n> "))
	assert.Contains(t, md, "could not be captured")
}

func TestTitleFallbacks(t *testing.T) {
	assert.Equal(t, "first query", Title([]byte(`{"entries":[{"query_str":" first query "}]}`), "fb"))
	assert.Equal(t, "fb", Title([]byte(`{"entries":[]}`), " fb "))
	assert.Equal(t, "Untitled", Title([]byte(`not json`), ""))
}

func TestTurns_TextShapes(t *testing.T) {
	payload := `{"entries":[
		{"query_str":"steps","text":"[{\"step_type\":\"INITIAL_QUERY\"},{\"step_type\":\"FINAL\",\"content\":{\"answer\":\"{\\\"answer\\\":\\\"from steps\\\"}\"}}]"},
		{"query_str":"plain","text":"just prose"},
		{"query_str":"field","answer":"from answer field"},
		{"query_str":"nothing"}
	]}`
	turns := Turns([]byte(payload))
	require.Len(t, turns, 4)
	assert.Equal(t, "from steps", turns[0].Answer)
	assert.Equal(t, "just prose", turns[1].Answer)
	assert.Equal(t, "from answer field", turns[2].Answer)
	assert.Equal(t, "", turns[3].Answer)
	assert.Empty(t, turns[3].Sources)
}

func TestMarkdown_NoEntries(t *testing.T) {
	assert.Equal(t, "# Fallback\n", Markdown([]byte(`{"status":"completed","entries":[]}`), "Fallback"))
}
