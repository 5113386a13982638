package progress

import (
	"sync"
	"time"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
)

// Stage is the lifecycle state of a sweep.
type Stage string

// Supported sweep stages.
const (
	StageIdle    Stage = "idle"
	StageRunning Stage = "running"
	StageDone    Stage = "done"
	StageFailed  Stage = "failed"
)

// Snapshot is a point-in-time copy of sweep progress.
type Snapshot struct {
	RunID           string    `json:"run_id,omitempty"`
	Tracker         string    `json:"tracker,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	Stage           Stage     `json:"stage"`
	TotalUnits      int       `json:"total_units"`
	DoneUnits       int       `json:"done_units"`
	Fetched         int       `json:"fetched"`
	Empty           int       `json:"empty"`
	TransportErrors int       `json:"transport_errors"`
	ShapeErrors     int       `json:"shape_errors"`
	Saved           int       `json:"saved"`
	Current         string    `json:"current,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Tracker holds the progress of one sweep at a time. It is safe for one
// writer and any number of concurrent readers.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock Clock
}

// NewTracker returns an idle Tracker. A nil clock uses the wall clock in UTC.
func NewTracker(clock Clock) *Tracker {
	if clock == nil {
		clock = utcClock{}
	}
	return &Tracker{snap: Snapshot{Stage: StageIdle}, clock: clock}
}

// Start resets the tracker for a new sweep of total units.
func (t *Tracker) Start(runID, tracker string, kind bugzilla.Kind, total int) {
	if t == nil {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		RunID:      runID,
		Tracker:    tracker,
		Kind:       kind.String(),
		Stage:      StageRunning,
		TotalUnits: total,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance records one finished unit.
func (t *Tracker) Advance(unit string, outcome bugzilla.Outcome, saved int) {
	if t == nil {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.DoneUnits++
	t.snap.Current = unit
	t.snap.Saved += saved
	t.snap.UpdatedAt = now
	switch outcome {
	case bugzilla.OutcomeOK:
		t.snap.Fetched++
	case bugzilla.OutcomeEmpty:
		t.snap.Empty++
	case bugzilla.OutcomeTransportError:
		t.snap.TransportErrors++
	case bugzilla.OutcomeShapeError:
		t.snap.ShapeErrors++
	}
}

// Finish marks the sweep done, or failed when err is non-nil.
func (t *Tracker) Finish(err error) {
	if t == nil {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Stage = StageDone
	if err != nil {
		t.snap.Stage = StageFailed
		t.snap.Error = err.Error()
	}
	t.snap.Current = ""
	t.snap.UpdatedAt = now
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{Stage: StageIdle}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
