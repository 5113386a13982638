package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
)

// Stats summarizes one sweep.
type Stats struct {
	RunID           string    `json:"run_id"`
	Subdomain       string    `json:"subdomain"`
	Kind            string    `json:"kind"`
	Units           int       `json:"units"`
	Fetched         int       `json:"fetched"`
	Empty           int       `json:"empty"`
	TransportErrors int       `json:"transport_errors"`
	ShapeErrors     int       `json:"shape_errors"`
	Skipped         int       `json:"skipped"`
	Saved           int       `json:"saved"`
	Status          string    `json:"status"`
	Started         time.Time `json:"started"`
	Finished        time.Time `json:"finished"`
}

// Sweep statuses.
const (
	StatusSuccess     = "success"
	StatusInterrupted = "interrupted"
	StatusFailure     = "failure"
)

// Failed returns the number of units whose fetch failed.
func (s Stats) Failed() int {
	return s.TransportErrors + s.ShapeErrors
}

// Duration returns the wall time of the sweep.
func (s Stats) Duration() time.Duration {
	if s.Finished.Before(s.Started) {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

func (s *Stats) count(outcome bugzilla.Outcome) {
	s.Units++
	switch outcome {
	case bugzilla.OutcomeOK:
		s.Fetched++
	case bugzilla.OutcomeEmpty:
		s.Empty++
	case bugzilla.OutcomeTransportError:
		s.TransportErrors++
	case bugzilla.OutcomeShapeError:
		s.ShapeErrors++
	}
}

func (s Stats) fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("subdomain", s.Subdomain),
		zap.String("kind", s.Kind),
		zap.String("status", s.Status),
		zap.Int("units", s.Units),
		zap.Int("fetched", s.Fetched),
		zap.Int("empty", s.Empty),
		zap.Int("transport_errors", s.TransportErrors),
		zap.Int("shape_errors", s.ShapeErrors),
		zap.Int("skipped", s.Skipped),
		zap.Int("saved", s.Saved),
		zap.Duration("duration", s.Duration()),
	}
}
