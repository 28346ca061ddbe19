package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reliability-tracker/pkg/models"
)

const DefaultTimeout = 10 * time.Minute

// Sweeper expires pending tests that have outlived the timeout.
type Sweeper struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewSweeper(timeout time.Duration, logger *slog.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{timeout: timeout, logger: logger}
}

// Sweep marks every pending test started before now minus the timeout as
// timed out in a single statement and returns how many were updated.
func (s *Sweeper) Sweep(ctx context.Context, q Tx, now time.Time) (int64, error) {
	cutoff := now.Add(-s.timeout)
	n, err := q.BulkUpdateStatus(ctx, TestFilter{
		Status:        models.StatusPending,
		StartedBefore: cutoff,
	}, models.StatusTimedOut)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending tests: %w", err)
	}

	if n > 0 {
		s.logger.Info("Expired pending tests", "count", n, "cutoff", cutoff)
	} else {
		s.logger.Debug("No pending tests to expire", "cutoff", cutoff)
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, store Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.Sweep(ctx, store, now); err != nil {
				s.logger.Error("Periodic sweep failed", "error", err)
			}
		}
	}
}
