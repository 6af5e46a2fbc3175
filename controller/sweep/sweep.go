// Package sweep drives a fleet sweep: it pulls artifact URIs off a
// progressive query decoder and fans them out to bounded parallel scans.
package sweep

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"sift/kusto"
	"sift/lib/timer"
	"sift/lib/utils/parallel"
	"sift/scan"

	"github.com/raulk/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultReportEvery = 100

// Stats counts scan dispatches and their outcomes. All counters are atomic;
// Stats must not be copied once in use.
type Stats struct {
	Started          atomic.Uint64
	Matched          atomic.Uint64
	NoMatch          atomic.Uint64
	SkippedMalformed atomic.Uint64
	SkippedOversize  atomic.Uint64
	Failed           atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats, safe to pass around.
type Snapshot struct {
	Started          uint64
	Matched          uint64
	NoMatch          uint64
	SkippedMalformed uint64
	SkippedOversize  uint64
	Failed           uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Started:          s.Started.Load(),
		Matched:          s.Matched.Load(),
		NoMatch:          s.NoMatch.Load(),
		SkippedMalformed: s.SkippedMalformed.Load(),
		SkippedOversize:  s.SkippedOversize.Load(),
		Failed:           s.Failed.Load(),
	}
}

func (s *Stats) record(out scan.Outcome) {
	switch out.Verdict {
	case scan.Matched:
		s.Matched.Inc()
	case scan.NoMatch:
		s.NoMatch.Inc()
	case scan.SkippedMalformedURI:
		s.SkippedMalformed.Inc()
	case scan.SkippedTooLarge:
		s.SkippedOversize.Inc()
	default:
		s.Failed.Inc()
	}
}

// Reporter receives the sweep's user-facing output. Implementations must be
// safe for concurrent use; matches arrive from scan goroutines.
type Reporter interface {
	Match(uri, line string)
	Progress(started uint64, elapsed, perTask time.Duration)
}

type writerReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterReporter emits matches and progress as plain text lines on w.
func NewWriterReporter(w io.Writer) Reporter {
	return &writerReporter{w: w}
}

func (r *writerReporter) Match(uri, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "MATCH %s: %s\n", uri, line)
}

func (r *writerReporter) Progress(started uint64, elapsed, perTask time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "started %d scans in %s (avg %s/scan)\n",
		started, elapsed.Round(time.Millisecond), perTask.Round(time.Millisecond))
}

type Config struct {
	// ReportEvery emits progress telemetry once per this many started scans.
	ReportEvery uint64
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Run decodes artifact URIs and scans each one in its own goroutine, with
// admission controlled by the gate. URIs are dispatched in decode order;
// completion order is unconstrained. Run returns only after every
// dispatched scan has finished, including when decoding fails or ctx is
// cancelled partway through. The returned Stats cover everything that was
// dispatched.
func Run(ctx context.Context, dec *kusto.Decoder, sc *scan.Scanner, gate *parallel.Gate,
	rep Reporter, cfg Config) (*Stats, error) {
	defer timer.Start("sweep.Run").Stop()
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = DefaultReportEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	stats := &Stats{}
	begin := cfg.Clock.Now()
	var wg sync.WaitGroup
	var runErr error

	for {
		uri, err := dec.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("failed to decode artifact stream: %w", err)
			break
		}
		// backpressure: block here until a scan slot frees up
		if err := gate.Acquire(ctx); err != nil {
			runErr = err
			break
		}
		started := stats.Started.Inc()
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			defer gate.Release()
			out := sc.Scan(ctx, uri)
			stats.record(out)
			if out.Verdict == scan.Matched {
				rep.Match(out.URI, out.Line)
			}
		}(uri)

		if started%cfg.ReportEvery == 0 {
			elapsed := cfg.Clock.Now().Sub(begin)
			rep.Progress(started, elapsed, elapsed/time.Duration(started))
		}
	}

	// every dispatched scan must land before we report or return
	wg.Wait()
	if runErr != nil {
		cfg.Logger.Error("Sweep aborted", zap.Error(runErr),
			zap.Uint64("started", stats.Started.Load()))
		return stats, runErr
	}
	return stats, nil
}
