// Package engine orchestrates the two-pass load: discover the entity universe
// from the stream, persist references in dependency order, then stream again
// and fan facts out to batched atomic writes.
//
// Two passes avoid buffering the stream in memory: pass 1 keeps only the
// distinct entities, pass 2 resolves every fact against the id maps those
// entities produced.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"scoutetl/internal/batch"
	"scoutetl/internal/fanout"
	"scoutetl/internal/metrics"
	"scoutetl/internal/record"
	"scoutetl/internal/refload"
	"scoutetl/internal/registry"
	"scoutetl/internal/storage"
)

// Logger is the minimal logging interface the engine uses. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// StreamFn provides a fresh row stream. The engine calls it once per pass;
// both passes must observe the same records for the id maps to cover pass 2.
type StreamFn func(ctx context.Context) (*record.Stream, error)

// Options tunes a run.
type Options struct {
	// BatchSize is the per-worker fact flush threshold. <= 0 means
	// batch.DefaultSize.
	BatchSize int

	// Workers is the pass-2 loader concurrency. <= 0 means 1.
	Workers int

	// Views are refreshed after a successful load. Refresh failures are
	// warnings; a backend without materialized views skips them.
	Views []string
}

// Report summarizes a run. Fact counts reflect committed batches only, so the
// report is meaningful even when the run aborts.
type Report struct {
	RowsSeen   int
	Brands     int
	Products   int
	Stores     int
	Customers  int
	Campaigns  int
	Facts      batch.Stats
	ViewsOK    []string
	ViewsError []string
}

// Engine runs the load. Repo and Stream are required; Logger and Metrics
// default to discard and nop.
type Engine struct {
	Repo    storage.Repository
	Logger  Logger
	Metrics metrics.Backend
	Stream  StreamFn
}

// Run executes both passes and the view refresh, returning the run report.
// The report is valid (with partial counts) alongside a non-nil error.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if e.Repo == nil {
		return nil, fmt.Errorf("engine: Repo is required")
	}
	if e.Stream == nil {
		return nil, fmt.Errorf("engine: Stream is required")
	}

	logf := e.logger()
	mb := e.metrics()
	rep := &Report{}

	ddlStart := time.Now()
	if err := e.Repo.EnsureSchema(ctx); err != nil {
		return rep, e.stage(mb, "ddl", ddlStart, err)
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))
	_ = e.stage(mb, "ddl", ddlStart, nil)

	pass1Start := time.Now()
	reg, err := e.discoverEntities(ctx)
	if err != nil {
		return rep, e.stage(mb, "pass1_discover", pass1Start, err)
	}
	rep.RowsSeen = reg.Rows()
	rep.Brands = len(reg.Brands())
	rep.Products = len(reg.Products())
	rep.Stores = len(reg.Stores())
	rep.Customers = len(reg.Customers())
	rep.Campaigns = len(reg.Campaigns())
	logf("stage=pass1_discover ok rows=%d brands=%d products=%d stores=%d customers=%d campaigns=%d duration=%s",
		rep.RowsSeen, rep.Brands, rep.Products, rep.Stores, rep.Customers, rep.Campaigns, durMS(pass1Start))
	mb.IncCounter(metrics.RecordsTotal, float64(rep.RowsSeen), metrics.Labels{"kind": "rows"})
	_ = e.stage(mb, "pass1_discover", pass1Start, nil)

	refStart := time.Now()
	ids, err := refload.Load(ctx, e.Repo, reg)
	if err != nil {
		return rep, e.stage(mb, "refload", refStart, err)
	}
	logf("stage=refload ok duration=%s", durMS(refStart))
	_ = e.stage(mb, "refload", refStart, nil)

	pass2Start := time.Now()
	stats, err := e.loadFacts(ctx, opts, ids)
	rep.Facts = stats
	mb.IncCounter(metrics.BatchesTotal, float64(stats.Batches), nil)
	mb.IncCounter(metrics.RecordsTotal, float64(stats.Transactions), metrics.Labels{"kind": "transactions"})
	mb.IncCounter(metrics.RecordsTotal, float64(stats.Items), metrics.Labels{"kind": "items"})
	mb.IncCounter(metrics.RecordsTotal, float64(stats.Audio), metrics.Labels{"kind": "audio"})
	mb.IncCounter(metrics.RecordsTotal, float64(stats.Video), metrics.Labels{"kind": "video"})
	if err != nil {
		// Committed batches stay committed; report them so an operator can
		// see how far the run got before deciding to re-run.
		logf("stage=pass2_load_facts error batches=%d transactions=%d err=%v",
			stats.Batches, stats.Transactions, err)
		return rep, e.stage(mb, "pass2_load_facts", pass2Start, err)
	}
	logf("stage=pass2_load_facts ok batches=%d transactions=%d items=%d audio=%d video=%d duration=%s",
		stats.Batches, stats.Transactions, stats.Items, stats.Audio, stats.Video, durMS(pass2Start))
	_ = e.stage(mb, "pass2_load_facts", pass2Start, nil)

	e.refreshViews(ctx, opts.Views, rep, logf)
	return rep, nil
}

// discoverEntities is pass 1: sequential by design, the full entity universe
// must exist before any surrogate id is requested.
func (e *Engine) discoverEntities(ctx context.Context) (*registry.Registry, error) {
	stream, err := e.Stream(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for r := range stream.Rows {
		reg.Observe(r)
		r.Free()
	}
	if err := stream.Wait(); err != nil {
		return nil, err
	}
	return reg, nil
}

// loadFacts is pass 2. Workers consume rows straight off the stream; each
// owns a batch.Writer so there is no shared mutable state. Any worker error
// cancels the derived context; first error wins.
func (e *Engine) loadFacts(ctx context.Context, opts Options, ids *refload.IDMaps) (batch.Stats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
			cancel(err)
		default:
		}
	}

	stream, err := e.Stream(ctx)
	if err != nil {
		return batch.Stats{}, err
	}

	var (
		statsMu sync.Mutex
		total   batch.Stats
	)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			writer := batch.NewWriter(e.Repo, opts.BatchSize)
			for r := range stream.Rows {
				select {
				case <-ctx.Done():
					// Drain quickly; rows seen after cancellation are
					// dropped, not re-pooled.
					r.Drop()
					continue
				default:
				}

				fs, err := fanout.Expand(r, ids)
				r.Free()
				if err != nil {
					setErr(err)
					continue
				}
				if err := writer.Add(ctx, fs); err != nil {
					setErr(err)
				}
			}

			if ctx.Err() == nil {
				if err := writer.Flush(ctx); err != nil {
					setErr(err)
				}
			}

			statsMu.Lock()
			total.Merge(writer.Stats())
			statsMu.Unlock()
		}()
	}
	wg.Wait()

	if err := stream.Wait(); err != nil {
		select {
		case werr := <-errCh:
			return total, werr
		default:
		}
		return total, err
	}
	select {
	case werr := <-errCh:
		return total, werr
	default:
	}
	return total, nil
}

// refreshViews refreshes each configured view. Failures never fail the run:
// the facts are committed, a stale view is recoverable.
func (e *Engine) refreshViews(ctx context.Context, views []string, rep *Report, logf func(string, ...any)) {
	for _, v := range views {
		start := time.Now()
		err := e.Repo.RefreshView(ctx, v)
		switch {
		case err == nil:
			rep.ViewsOK = append(rep.ViewsOK, v)
			logf("stage=refresh_view view=%s ok duration=%s", v, durMS(start))
		case errors.Is(err, storage.ErrViewsUnsupported):
			logf("stage=refresh_view view=%s skipped reason=unsupported", v)
		default:
			rep.ViewsError = append(rep.ViewsError, v)
			logf("stage=refresh_view view=%s warn err=%v", v, err)
		}
	}
}

// stage records stage metrics and passes the error through.
func (e *Engine) stage(mb metrics.Backend, name string, start time.Time, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := metrics.Labels{"stage": name, "status": status}
	mb.IncCounter(metrics.StageTotal, 1, labels)
	mb.ObserveHistogram(metrics.StageDurationSeconds, time.Since(start).Seconds(), labels)
	return err
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) metrics() metrics.Backend {
	if e.Metrics == nil {
		return metrics.Nop{}
	}
	return e.Metrics
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
