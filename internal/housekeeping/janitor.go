// Package housekeeping runs periodic age-based purges of the notification
// history.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/roberto/internal/metrics"
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// Purger deletes rows older than a threshold in epoch millis.
// *store.Store satisfies it.
type Purger interface {
	DeleteOlderThan(ctx context.Context, threshold int64) (int64, error)
}

// Janitor purges notifications older than Retention every Interval.
type Janitor struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	clock     Clock
	logger    *slog.Logger
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(j *Janitor) { j.clock = c }
}

// WithLogger sets the logger for purge results.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// New returns a Janitor. Retention and interval must be positive.
func New(p Purger, retention, interval time.Duration, opts ...Option) (*Janitor, error) {
	if p == nil {
		return nil, errors.New("housekeeping: nil purger")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("housekeeping: retention must be positive, got %s", retention)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("housekeeping: interval must be positive, got %s", interval)
	}

	j := &Janitor{
		purger:    p,
		retention: retention,
		interval:  interval,
		clock:     SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Threshold returns the cutoff RunOnce would use now, in epoch millis.
func (j *Janitor) Threshold() int64 {
	return j.clock.Now().Add(-j.retention).UnixMilli()
}

// RunOnce deletes every notification older than the retention window and
// returns how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	threshold := j.Threshold()
	removed, err := j.purger.DeleteOlderThan(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge older than %d: %w", threshold, err)
	}

	metrics.PurgedRowsTotal.Add(float64(removed))
	if removed > 0 {
		j.logger.Info("purged notifications", "removed", removed, "threshold", threshold)
	}
	return removed, nil
}

// Run purges immediately and then once per interval until ctx is done.
// Failed purges are logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("purge failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
