// Package render turns a captured thread payload into Markdown. It reads
// the raw JSON with gjson so unknown or missing upstream fields never fail
// a render.
package render

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const placeholderNote = "> The thread data could not be captured in time. Re-run the export after removing this URL from the done file to retry."

// Source is one cited web result.
type Source struct {
	Name string
	URL  string
}

// Turn is one question/answer exchange of a thread.
type Turn struct {
	Query   string
	Answer  string
	Sources []Source
}

// Title returns the thread title, falling back to the first query and then
// to fallback.
func Title(payload []byte, fallback string) string {
	entries := gjson.GetBytes(payload, "entries")
	for _, e := range entries.Array() {
		if t := strings.TrimSpace(e.Get("thread_title").String()); t != "" {
			return t
		}
	}
	for _, e := range entries.Array() {
		if q := strings.TrimSpace(e.Get("query_str").String()); q != "" {
			return q
		}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return "Untitled"
}

// Turns extracts the question/answer pairs in order.
func Turns(payload []byte) []Turn {
	var turns []Turn
	gjson.GetBytes(payload, "entries").ForEach(func(_, e gjson.Result) bool {
		turns = append(turns, Turn{
			Query:   strings.TrimSpace(e.Get("query_str").String()),
			Answer:  strings.TrimSpace(answer(e)),
			Sources: sources(e),
		})
		return true
	})
	return turns
}

// Markdown renders payload as a Markdown document. fallbackTitle is used
// when the payload carries no title, e.g. for placeholders.
func Markdown(payload []byte, fallbackTitle string) string {
	var sb strings.Builder

	if gjson.GetBytes(payload, "status").String() == "placeholder" {
		fmt.Fprintf(&sb, "# %s\n\n", Title(nil, fallbackTitle))
		sb.WriteString(placeholderNote)
		sb.WriteString("\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "# %s\n\n", Title(payload, fallbackTitle))

	for i, turn := range Turns(payload) {
		if i > 0 {
			sb.WriteString("---\n\n")
		}
		if turn.Query != "" {
			fmt.Fprintf(&sb, "## %s\n\n", singleLine(turn.Query))
		}
		if turn.Answer != "" {
			sb.WriteString(turn.Answer)
			sb.WriteString("\n\n")
		}
		if len(turn.Sources) > 0 {
			sb.WriteString("### Sources\n\n")
			for j, src := range turn.Sources {
				name := src.Name
				if name == "" {
					name = src.URL
				}
				fmt.Fprintf(&sb, "%d. [%s](%s)\n", j+1, name, src.URL)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// answer finds the answer text across the payload shapes seen in the wild:
// structured blocks, a JSON-encoded text field, or a plain answer field.
func answer(e gjson.Result) string {
	for _, b := range e.Get("blocks").Array() {
		if b.Get("intended_usage").String() != "ask_text" {
			continue
		}
		if a := b.Get("markdown_block.answer"); a.Exists() {
			return a.String()
		}
	}

	if text := e.Get("text"); text.Exists() {
		if a := answerFromText(text.String()); a != "" {
			return a
		}
	}
	return e.Get("answer").String()
}

func answerFromText(text string) string {
	if !gjson.Valid(text) {
		return text
	}
	parsed := gjson.Parse(text)
	if parsed.IsArray() {
		// Step list; the FINAL step carries the answer, itself JSON-encoded.
		for _, step := range parsed.Array() {
			if step.Get("step_type").String() != "FINAL" {
				continue
			}
			inner := step.Get("content.answer").String()
			if gjson.Valid(inner) {
				if a := gjson.Get(inner, "answer"); a.Exists() {
					return a.String()
				}
			}
			return inner
		}
		return ""
	}
	return parsed.Get("answer").String()
}

func sources(e gjson.Result) []Source {
	var out []Source
	add := func(r gjson.Result) bool {
		u := r.Get("url").String()
		if u == "" {
			return true
		}
		out = append(out, Source{Name: strings.TrimSpace(r.Get("name").String()), URL: u})
		return true
	}
	for _, b := range e.Get("blocks").Array() {
		if b.Get("intended_usage").String() == "web_results" {
			b.Get("web_result_block.web_results").ForEach(func(_, r gjson.Result) bool { return add(r) })
		}
	}
	if len(out) == 0 {
		e.Get("web_results").ForEach(func(_, r gjson.Result) bool { return add(r) })
	}
	return out
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
