package export

import (
	"context"
	"fmt"
	"time"

	"threadex/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ItemSource produces the list of threads to export.
type ItemSource interface {
	Discover(ctx context.Context, done DoneLookup) ([]DiscoveryItem, error)
}

// ThreadLoader loads one thread page into a record.
type ThreadLoader interface {
	LoadThread(ctx context.Context, pageURL string) (ThreadRecord, error)
}

// ExportSummary reports the outcome of one run.
type ExportSummary struct {
	RunID        string
	Discovered   int
	Exported     int
	Placeholders int
	Failed       int
	Duration     time.Duration
}

// ProgressFunc is called before each item is processed (1-based index).
type ProgressFunc func(index, total int, item DiscoveryItem)

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithPacing sets the delay enforced after every item.
func WithPacing(d time.Duration) ExporterOption {
	return func(e *Exporter) {
		if d >= 0 {
			e.pacing = d
		}
	}
}

// WithProgress installs a per-item progress callback.
func WithProgress(fn ProgressFunc) ExporterOption {
	return func(e *Exporter) {
		e.progress = fn
	}
}

// WithAfterRun installs a hook that runs once after the item loop, e.g. the
// post-export converter.
func WithAfterRun(fn func(ctx context.Context, summary ExportSummary) error) ExporterOption {
	return func(e *Exporter) {
		e.afterRun = fn
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) ExporterOption {
	return func(e *Exporter) {
		if id != "" {
			e.runID = id
		}
	}
}

// Exporter sequences discovery, per-thread correlation, persistence and
// done-set bookkeeping.
type Exporter struct {
	source   ItemSource
	loader   ThreadLoader
	sink     ThreadSink
	done     DoneSet
	pacing   time.Duration
	progress ProgressFunc
	afterRun func(ctx context.Context, summary ExportSummary) error
	runID    string
	log      *logging.Logger
}

// NewExporter wires the acquisition pipeline.
func NewExporter(source ItemSource, loader ThreadLoader, sink ThreadSink, done DoneSet, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		source: source,
		loader: loader,
		sink:   sink,
		done:   done,
		pacing: 2 * time.Second,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.Get(logging.CategoryExport).With(zap.String("run", e.runID))
	return e
}

// RunID returns the id attached to this exporter's logs and summary.
func (e *Exporter) RunID() string {
	return e.runID
}

// Run exports every newly discovered thread. A single broken thread never
// aborts the batch; discovery failure and cancellation do.
func (e *Exporter) Run(ctx context.Context) (ExportSummary, error) {
	start := time.Now()
	summary := ExportSummary{RunID: e.runID}

	items, err := e.source.Discover(ctx, e.done)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, fmt.Errorf("discover threads: %w", err)
	}
	summary.Discovered = len(items)
	e.log.Info("found %d new conversations to process", len(items))

	for i, item := range items {
		log := e.log.With(zap.String("url", item.URL))
		if e.progress != nil {
			e.progress(i+1, len(items), item)
			log.Debug("[%d/%d] processing: %s", i+1, len(items), item.Title)
		} else {
			log.Info("[%d/%d] processing: %s", i+1, len(items), item.Title)
		}

		placeholder, err := e.exportOne(ctx, item)
		switch {
		case err != nil && ctx.Err() != nil:
			summary.Duration = time.Since(start)
			return summary, ctx.Err()
		case err != nil:
			summary.Failed++
			log.Error("error processing conversation: %v", err)
		default:
			summary.Exported++
			if placeholder {
				summary.Placeholders++
			}
		}

		if err := sleepCtx(ctx, e.pacing); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	if e.afterRun != nil {
		if err := e.afterRun(ctx, summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("post-export hook: %w", err)
		}
	}

	summary.Duration = time.Since(start)
	e.log.Info("done: %d exported (%d placeholders), %d failed in %v",
		summary.Exported, summary.Placeholders, summary.Failed, summary.Duration.Round(time.Second))
	return summary, nil
}

// exportOne loads, persists and records a single thread. On error nothing
// is appended to the done set.
func (e *Exporter) exportOne(ctx context.Context, item DiscoveryItem) (placeholder bool, err error) {
	rec, err := e.loader.LoadThread(ctx, item.URL)
	if err != nil {
		return false, fmt.Errorf("load thread: %w", err)
	}
	if err := e.sink.SaveThread(ctx, item, rec); err != nil {
		return false, fmt.Errorf("save thread %s: %w", rec.ID, err)
	}
	e.done.Add(item.URL)
	if err := e.done.Save(); err != nil {
		return false, fmt.Errorf("save done file: %w", err)
	}
	e.log.Debug("progress saved for %s", rec.ID)
	return rec.Payload.IsPlaceholder(), nil
}
