// Package store persists export results: the done file that makes runs
// resumable, the per-thread JSON and Markdown files, and the SQLite export
// index.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// doneFileContents is the on-disk shape of the done file.
type doneFileContents struct {
	ProcessedURLs []string `json:"processedUrls"`
}

// DoneFile is the append-only set of thread URLs already exported.
// It is safe for concurrent use.
type DoneFile struct {
	path string

	mu   sync.RWMutex
	urls []string
	seen map[string]struct{}
}

// LoadDoneFile reads path. A missing file yields an empty set.
func LoadDoneFile(path string) (*DoneFile, error) {
	d := &DoneFile{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read done file: %w", err)
	}

	var contents doneFileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse done file %s: %w", path, err)
	}
	for _, u := range contents.ProcessedURLs {
		d.addLocked(u)
	}
	return d, nil
}

// Path returns the file location.
func (d *DoneFile) Path() string {
	return d.path
}

// Contains reports whether url was processed.
func (d *DoneFile) Contains(url string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[url]
	return ok
}

// Add records url. Adding a known URL is a no-op.
func (d *DoneFile) Add(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addLocked(url)
}

func (d *DoneFile) addLocked(url string) {
	if _, ok := d.seen[url]; ok {
		return
	}
	d.seen[url] = struct{}{}
	d.urls = append(d.urls, url)
}

// Len returns the number of processed URLs.
func (d *DoneFile) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.urls)
}

// URLs returns the processed URLs in insertion order.
func (d *DoneFile) URLs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.urls...)
}

// Save writes the set atomically via a temp file and rename.
func (d *DoneFile) Save() error {
	d.mu.RLock()
	contents := doneFileContents{ProcessedURLs: append([]string{}, d.urls...)}
	d.mu.RUnlock()

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode done file: %w", err)
	}
	return writeFileAtomic(d.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
