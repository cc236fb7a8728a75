package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"threadex/internal/export"
	"threadex/internal/logging"
	"threadex/internal/render"

	"golang.org/x/sync/errgroup"
)

// ThreadWriter stores each exported thread as <id>.json (the payload,
// indented) and <id>.md (the rendered conversation) in one directory, and
// optionally records it in the export index.
type ThreadWriter struct {
	dir   string
	index *Index
	runID string
	log   *logging.Logger
}

// WriterOption configures a ThreadWriter.
type WriterOption func(*ThreadWriter)

// WithIndex records every saved thread in idx.
func WithIndex(idx *Index) WriterOption {
	return func(w *ThreadWriter) {
		w.index = idx
	}
}

// WithWriterRunID tags index rows with the exporter run id.
func WithWriterRunID(id string) WriterOption {
	return func(w *ThreadWriter) {
		w.runID = id
	}
}

// NewThreadWriter creates dir if needed.
func NewThreadWriter(dir string, opts ...WriterOption) (*ThreadWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	w := &ThreadWriter{dir: dir, log: logging.Get(logging.CategoryStore)}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the output directory.
func (w *ThreadWriter) Dir() string {
	return w.dir
}

// JSONPath returns where the payload of thread id is written.
func (w *ThreadWriter) JSONPath(id string) string {
	return filepath.Join(w.dir, id+".json")
}

// MarkdownPath returns where the rendered thread id is written.
func (w *ThreadWriter) MarkdownPath(id string) string {
	return filepath.Join(w.dir, id+".md")
}

// SaveThread writes both files concurrently. Either failure fails the
// save; the index row is only added once both files exist.
func (w *ThreadWriter) SaveThread(ctx context.Context, item export.DiscoveryItem, rec export.ThreadRecord) error {
	data, err := json.MarshalIndent(rec.Payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode thread %s: %w", rec.ID, err)
	}
	title := render.Title(data, item.Title)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := os.WriteFile(w.JSONPath(rec.ID), data, 0644); err != nil {
			return fmt.Errorf("failed to write json: %w", err)
		}
		w.log.Info("saved JSON: %s.json", rec.ID)
		return nil
	})
	g.Go(func() error {
		md := render.Markdown(data, item.Title)
		if err := os.WriteFile(w.MarkdownPath(rec.ID), []byte(md), 0644); err != nil {
			return fmt.Errorf("failed to write markdown: %w", err)
		}
		w.log.Info("saved Markdown: %s.md", rec.ID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if w.index == nil {
		return nil
	}
	return w.index.Record(IndexEntry{
		ThreadID:    rec.ID,
		URL:         item.URL,
		Title:       title,
		Status:      rec.Payload.Status,
		Entries:     len(rec.Payload.Entries),
		Placeholder: rec.Payload.IsPlaceholder(),
		RunID:       w.runID,
		ExportedAt:  time.Now(),
	})
}
