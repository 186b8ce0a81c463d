package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/mediarelay/internal/model"
)

const (
	otelScope      = "mediarelay/sync"
	spanPass       = "sync.pass"
	spanBackfill   = "sync.backfill"
	metricImported = "mediarelay.sync.items.imported"
	metricSkipped  = "mediarelay.sync.items.skipped"
	metricErrors   = "mediarelay.sync.errors"
	metricCommits  = "mediarelay.sync.commits"
)

// Stats aggregates the outcomes of one scheduled round over all sources.
type Stats struct {
	Sources  int
	Imported int
	Skipped  int
	Errors   int
	Commits  int
}

func (s *Stats) add(o Outcome) {
	s.Sources++
	s.Imported += o.ImportedCount
	s.Skipped += o.SkippedCount
	s.Errors += len(o.Errors)
	if o.Committed {
		s.Commits++
	}
}

// Engine runs steady-state passes for every registered source on a fixed
// interval. Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	runners       map[model.Provider]*Runner
	store         LedgerStore
	pollInterval  time.Duration
	maxConcurrent int
	log           *slog.Logger

	// OTel instruments, never nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntImported metric.Int64Counter
	cntSkipped  metric.Int64Counter
	cntErrors   metric.Int64Counter
	cntCommits  metric.Int64Counter
}

// NewEngine creates an Engine. Sources whose provider has no runner are
// skipped with a warning. maxConcurrent bounds how many sources are processed
// at once; values below 1 mean one at a time.
func NewEngine(runners []*Runner, store LedgerStore, pollInterval time.Duration, maxConcurrent int, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	byProvider := make(map[model.Provider]*Runner, len(runners))
	for _, r := range runners {
		byProvider[r.Provider()] = r
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Engine{
		runners:       byProvider,
		store:         store,
		pollInterval:  pollInterval,
		maxConcurrent: maxConcurrent,
		log:           logger,

		tracer:      tracer,
		cntImported: mustCounter(metricImported, "Number of remote items imported"),
		cntSkipped:  mustCounter(metricSkipped, "Number of listed items skipped as already known"),
		cntErrors:   mustCounter(metricErrors, "Number of provider or import errors"),
		cntCommits:  mustCounter(metricCommits, "Number of ledger commits"),
	}
}

// RunOnce performs one steady-state pass for every registered source and
// returns aggregate statistics and the first error encountered. A failing
// source does not stop the others.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	sources, err := e.store.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing sources: %w", err)
	}

	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	g.SetLimit(e.maxConcurrent)

	for _, src := range sources {
		runner, ok := e.runners[src.Provider]
		if !ok {
			e.log.Warn("no runner for provider, source skipped",
				"provider", src.Provider, "source_id", src.SourceID)
			continue
		}

		g.Go(func() error {
			out, err := e.pass(ctx, spanPass, src.SourceID, runner, func(ctx context.Context) (Outcome, error) {
				return runner.RunSync(ctx, src.SourceID)
			})
			if err == nil {
				err = out.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			stats.add(out)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return nil
		})
	}
	_ = g.Wait()

	e.log.Info("sync round complete",
		"sources", stats.Sources,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"commits", stats.Commits,
	)
	return stats, firstErr
}

// Backfill runs the one-shot historical import for one source, recording a
// trace span and metrics like a scheduled pass.
func (e *Engine) Backfill(ctx context.Context, provider model.Provider, sourceID string, pageLimit int) (Outcome, error) {
	runner, ok := e.runners[provider]
	if !ok {
		return Outcome{Provider: provider, SourceID: sourceID}, fmt.Errorf("no client configured for provider %q", provider)
	}
	return e.pass(ctx, spanBackfill, sourceID, runner, func(ctx context.Context) (Outcome, error) {
		return runner.RunBackfill(ctx, sourceID, pageLimit)
	})
}

// pass runs fn inside a span and records its outcome.
func (e *Engine) pass(ctx context.Context, spanName, sourceID string, runner *Runner, fn func(context.Context) (Outcome, error)) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("sync.provider", string(runner.Provider())),
		attribute.String("sync.source_id", sourceID),
	))
	defer span.End()

	out, err := fn(ctx)

	// Counters are safe to record even when the span is a no-op.
	attrs := metric.WithAttributes(attribute.String("provider", string(runner.Provider())))
	if out.ImportedCount > 0 {
		e.cntImported.Add(ctx, int64(out.ImportedCount), attrs)
	}
	if out.SkippedCount > 0 {
		e.cntSkipped.Add(ctx, int64(out.SkippedCount), attrs)
	}
	if n := len(out.Errors); n > 0 {
		e.cntErrors.Add(ctx, int64(n), attrs)
	}
	if out.Committed {
		e.cntCommits.Add(ctx, 1, attrs)
	}

	span.SetAttributes(
		attribute.String("sync.run_id", out.RunID),
		attribute.Int("sync.imported", out.ImportedCount),
		attribute.Int("sync.skipped", out.SkippedCount),
		attribute.Int("sync.errors", len(out.Errors)),
		attribute.Bool("sync.committed", out.Committed),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(out.Errors) > 0:
		span.RecordError(out.Err())
		span.SetStatus(codes.Error, "pass had errors")
	}
	return out, err
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.RunOnce(ctx); err != nil {
		e.log.Error("initial sync round had errors", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				e.log.Error("sync round had errors", "error", err)
			}
		}
	}
}
