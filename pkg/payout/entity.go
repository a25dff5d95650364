// Package payout holds the mass payout domain model: assets, distributions,
// the batch payouts that execute them on-chain and the per-holder payout legs.
//
// Entities validate their own invariants at construction and expose state
// transitions as methods; persistence and chain access live elsewhere.
package payout

import (
	"time"

	"github.com/google/uuid"
)

// Timestamps is embedded by every persisted entity.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

func newTimestamps(now time.Time) Timestamps {
	now = now.UTC()
	return Timestamps{CreatedAt: now, UpdatedAt: now}
}

// Touch moves UpdatedAt forward. It never moves it before CreatedAt.
func (t *Timestamps) Touch(now time.Time) {
	now = now.UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

// Validate enforces createdAt <= updatedAt.
func (t Timestamps) Validate() error {
	if t.UpdatedAt.Before(t.CreatedAt) {
		return ErrInvalidTimestamps
	}
	return nil
}

// RestoreTimestamps rebuilds timestamps loaded from storage.
func RestoreTimestamps(createdAt, updatedAt time.Time) (Timestamps, error) {
	ts := Timestamps{CreatedAt: createdAt.UTC(), UpdatedAt: updatedAt.UTC()}
	if err := ts.Validate(); err != nil {
		return Timestamps{}, err
	}
	return ts, nil
}

func newID() string {
	return uuid.NewString()
}
