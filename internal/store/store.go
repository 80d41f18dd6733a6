// Package store persists detected opportunities with a bounded lifetime.
package store

import (
	"context"
	"time"
)

// Record is one detected opportunity. ID is the triangle identity, so a
// re-detection within the record's lifetime overwrites rather than
// accumulates.
type Record struct {
	ID            string
	Exchange      string
	UserID        string
	Symbols       [3]string
	Direction     string
	ProfitPercent float64
	ProfitAmount  float64
	PositionSize  float64
	// Prices are the leg prices the detection was computed from, in
	// Symbols order.
	Prices [3]float64
	DetectedAt    time.Time
	ExpiresAt     time.Time
}

// Store persists opportunity records.
type Store interface {
	// Create upserts a record keyed by (exchange, id).
	Create(ctx context.Context, rec Record) error
	// DeleteExpired removes records whose ExpiresAt is at or before now
	// and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
