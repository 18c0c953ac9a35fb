package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

const day = 24 * time.Hour

// RecoveryTracker keeps the number of days since the user last unblocked a site
type RecoveryTracker struct {
	store ports.Store
	now   func() time.Time
}

// NewRecoveryTracker creates a tracker persisting its streak in store
func NewRecoveryTracker(store ports.Store) *RecoveryTracker {
	return &RecoveryTracker{store: store, now: time.Now}
}

// Start begins a new streak from now
func (r *RecoveryTracker) Start(ctx context.Context) (core.Streak, error) {
	streak := core.Streak{StartDate: r.now().UTC()}
	data, err := json.Marshal(streak)
	if err != nil {
		return core.Streak{}, fmt.Errorf("failed to encode streak: %w", err)
	}
	if err := r.store.Set(ctx, ports.KeyStreak, string(data)); err != nil {
		return core.Streak{}, fmt.Errorf("failed to save streak: %w", err)
	}
	return streak, nil
}

// Reset restarts the streak after a site was unblocked
func (r *RecoveryTracker) Reset(ctx context.Context) error {
	_, err := r.Start(ctx)
	return err
}

// Current returns the stored streak with Count set to the whole days elapsed.
// A streak that was never started is returned as the zero value.
func (r *RecoveryTracker) Current(ctx context.Context) (core.Streak, error) {
	raw, err := r.store.Get(ctx, ports.KeyStreak)
	if errors.Is(err, core.ErrNotFound) {
		return core.Streak{}, nil
	}
	if err != nil {
		return core.Streak{}, fmt.Errorf("failed to load streak: %w", err)
	}

	var streak core.Streak
	if err := json.Unmarshal([]byte(raw), &streak); err != nil {
		return core.Streak{}, fmt.Errorf("failed to decode streak: %w", err)
	}
	if elapsed := r.now().Sub(streak.StartDate); elapsed > 0 {
		streak.Count = int(elapsed / day)
	} else {
		streak.Count = 0
	}
	return streak, nil
}
