// Package pipeline drives sweeps: a chunked pass over a bug id range and
// ledger-driven passes that fetch comments or history for saved bugs.
//
// A sweep runs on the calling goroutine. Each unit is throttled, fetched,
// and saved before the next starts. The ledger is checkpointed every few
// units, at the end of the sweep, and when the context is cancelled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/metrics"
	"github.com/vikigenius/bugscraper/internal/partition"
	"github.com/vikigenius/bugscraper/internal/progress"
)

// DefaultCheckpointEvery is the number of units between ledger checkpoints.
const DefaultCheckpointEvery = 10

var tracer = otel.Tracer("github.com/vikigenius/bugscraper/internal/pipeline")

// Fetcher retrieves records for one request. *bugzilla.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req bugzilla.Request) bugzilla.Result
}

// Throttle paces requests to a tracker.
type Throttle interface {
	Wait(ctx context.Context, tracker string) error
}

// Clock supplies sweep timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Options configures a Driver. Only Subdomain is required.
type Options struct {
	Subdomain       string
	CheckpointEvery int
	Throttle        Throttle
	Progress        *progress.Tracker
	Clock           Clock
	IDs             IDGenerator
	Logger          *zap.Logger
}

// Driver runs sweeps against one tracker.
type Driver struct {
	fetcher         Fetcher
	subdomain       string
	checkpointEvery int
	throttle        Throttle
	progress        *progress.Tracker
	clock           Clock
	ids             IDGenerator
	logger          *zap.Logger
}

type noThrottle struct{}

func (noThrottle) Wait(context.Context, string) error { return nil }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "run-" + strconv.Itoa(s.n), nil
}

// NewDriver validates opts and fills in defaults.
func NewDriver(fetcher Fetcher, opts Options) (*Driver, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Subdomain == "" {
		return nil, errors.New("subdomain is required")
	}
	d := &Driver{
		fetcher:         fetcher,
		subdomain:       opts.Subdomain,
		checkpointEvery: opts.CheckpointEvery,
		throttle:        opts.Throttle,
		progress:        opts.Progress,
		clock:           opts.Clock,
		ids:             opts.IDs,
		logger:          opts.Logger,
	}
	if d.checkpointEvery <= 0 {
		d.checkpointEvery = DefaultCheckpointEvery
	}
	if d.throttle == nil {
		d.throttle = noThrottle{}
	}
	if d.clock == nil {
		d.clock = utcClock{}
	}
	if d.ids == nil {
		d.ids = &seqIDs{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

// RunBugPass fetches every range and saves the returned bugs. Ranges that come
// back empty or failed are counted and not retried.
func (d *Driver) RunBugPass(ctx context.Context, w *partition.Writer, ranges []Range) (Stats, error) {
	ctx, span := d.startSpan(ctx, bugzilla.KindBug)
	defer span.End()
	s, err := d.begin(bugzilla.KindBug, len(ranges))
	if err != nil {
		return s, err
	}
	d.logger.Info("Starting bug sweep",
		zap.String("run_id", s.RunID),
		zap.String("subdomain", d.subdomain),
		zap.Int("chunks", len(ranges)),
		zap.Ints("years", w.Years()),
	)

	var sweepErr error
	for _, r := range ranges {
		if err := d.wait(ctx); err != nil {
			sweepErr = err
			break
		}
		res := d.fetcher.Fetch(ctx, bugzilla.Request{Kind: bugzilla.KindBug, IDs: r.IDs()})
		s.count(res.Outcome)
		saved := 0
		if len(res.Records) > 0 {
			saved, err = w.SaveBugs(res.Records)
			s.Saved += saved
			if err != nil {
				sweepErr = fmt.Errorf("save chunk %s: %w", r, err)
				break
			}
		}
		d.progress.Advance(r.String(), res.Outcome, saved)
		d.logger.Debug("Chunk done",
			zap.Stringer("range", r),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("records", len(res.Records)),
			zap.Int("saved", saved),
		)
		if err := d.maybeCheckpoint(w, s.Units); err != nil {
			sweepErr = err
			break
		}
	}
	return d.finish(ctx, w, s, sweepErr)
}

// RunEntryPass walks the ledger in order and fetches kind for every entry,
// replacing the entry's comment ids or edit count when records come back.
// Entries whose bug id is not numeric are skipped.
func (d *Driver) RunEntryPass(ctx context.Context, w *partition.Writer, kind bugzilla.Kind) (Stats, error) {
	if kind != bugzilla.KindComment && kind != bugzilla.KindHistory {
		return Stats{}, fmt.Errorf("entry pass does not support kind %q", kind)
	}
	ctx, span := d.startSpan(ctx, kind)
	defer span.End()
	l := w.Ledger()
	total := l.Len()
	s, err := d.begin(kind, total)
	if err != nil {
		return s, err
	}
	d.logger.Info("Starting entry sweep",
		zap.String("run_id", s.RunID),
		zap.String("subdomain", d.subdomain),
		zap.String("kind", kind.String()),
		zap.Int("entries", total),
	)

	var sweepErr error
	for i := range total {
		entry, err := l.At(i)
		if err != nil {
			sweepErr = err
			break
		}
		id, err := strconv.Atoi(entry.BugID)
		if err != nil {
			s.Skipped++
			d.logger.Warn("Skipping non-numeric bug id", zap.String("bug_id", entry.BugID))
			continue
		}
		if err := d.wait(ctx); err != nil {
			sweepErr = err
			break
		}
		res := d.fetcher.Fetch(ctx, bugzilla.Request{Kind: kind, IDs: []int{id}})
		s.count(res.Outcome)
		if len(res.Records) > 0 {
			if err := w.Save(kind, i, res.Records); err != nil {
				sweepErr = fmt.Errorf("save %s of bug %s: %w", kind, entry.BugID, err)
				break
			}
			s.Saved += len(res.Records)
		}
		d.progress.Advance(entry.BugID, res.Outcome, len(res.Records))
		if err := d.maybeCheckpoint(w, s.Units); err != nil {
			sweepErr = err
			break
		}
	}
	return d.finish(ctx, w, s, sweepErr)
}

func (d *Driver) startSpan(ctx context.Context, kind bugzilla.Kind) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sweep."+kind.String(), trace.WithAttributes(
		attribute.String("bugscraper.subdomain", d.subdomain),
	))
}

func (d *Driver) begin(kind bugzilla.Kind, total int) (Stats, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return Stats{}, fmt.Errorf("new run id: %w", err)
	}
	s := Stats{
		RunID:     runID,
		Subdomain: d.subdomain,
		Kind:      kind.String(),
		Started:   d.clock.Now(),
	}
	d.progress.Start(runID, d.subdomain, kind, total)
	return s, nil
}

// wait returns a non-nil error only when the sweep must stop.
func (d *Driver) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sweep interrupted: %w", err)
	}
	if err := d.throttle.Wait(ctx, d.subdomain); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

func (d *Driver) maybeCheckpoint(w *partition.Writer, units int) error {
	if units == 0 || units%d.checkpointEvery != 0 {
		return nil
	}
	if err := w.Checkpoint(); err != nil {
		return err
	}
	d.logger.Debug("Checkpointed ledger", zap.Int("units", units), zap.Int("entries", w.Ledger().Len()))
	return nil
}

// finish checkpoints whatever was saved, on every exit path, then reports.
func (d *Driver) finish(ctx context.Context, w *partition.Writer, s Stats, sweepErr error) (Stats, error) {
	if err := w.Checkpoint(); err != nil {
		sweepErr = errors.Join(sweepErr, err)
	}
	// A cancel that lands during the last unit leaves no unit error behind.
	if sweepErr == nil && ctx.Err() != nil {
		sweepErr = fmt.Errorf("sweep interrupted: %w", ctx.Err())
	}
	s.Finished = d.clock.Now()
	switch {
	case sweepErr == nil:
		s.Status = StatusSuccess
	case ctx.Err() != nil && errors.Is(sweepErr, ctx.Err()):
		s.Status = StatusInterrupted
	default:
		s.Status = StatusFailure
	}
	metrics.ObserveSweep(s.Kind, s.Status)
	d.progress.Finish(sweepErr)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("bugscraper.run_id", s.RunID),
		attribute.String("bugscraper.status", s.Status),
		attribute.Int("bugscraper.units", s.Units),
		attribute.Int("bugscraper.saved", s.Saved),
	)
	if sweepErr != nil {
		span.RecordError(sweepErr)
		span.SetStatus(codes.Error, s.Status)
	}

	if sweepErr != nil {
		d.logger.Warn("Sweep stopped", append(s.fields(), zap.Error(sweepErr))...)
		return s, sweepErr
	}
	d.logger.Info("Sweep finished", s.fields()...)
	return s, nil
}
