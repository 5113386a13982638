package store

import (
	"context"
	"time"
)

// SweepRun is one finished sweep as recorded in run history.
type SweepRun struct {
	RunID           string
	Subdomain       string
	Kind            string
	Status          string
	Units           int
	Fetched         int
	Empty           int
	TransportErrors int
	ShapeErrors     int
	Skipped         int
	Saved           int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// RunRepository persists sweep run history.
type RunRepository interface {
	// RecordRun stores one finished sweep. Recording the same RunID twice
	// replaces the earlier row.
	RecordRun(ctx context.Context, run SweepRun) error
	// Close releases underlying resources.
	Close()
}
