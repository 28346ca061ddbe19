package reliability

import (
	"context"
	"fmt"
	"math"
	"time"

	"reliability-tracker/pkg/models"
)

const (
	// DefaultThreshold is the minimum number of tests before a client is scored.
	DefaultThreshold = 5
	// DefaultWindow is the longest routing latency that still counts as a success.
	DefaultWindow = 300 * time.Second
)

// Scorer turns a client's test history into a reliability percentage.
type Scorer struct {
	Threshold int64
	Window    time.Duration
}

func NewScorer(threshold int64, window time.Duration) Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Scorer{Threshold: threshold, Window: window}
}

// Score returns the share of msisdn's tests that succeeded with a routing
// latency within the window, as a percentage rounded to two decimals.
// Pending and timed out tests count in the denominator. Clients with fewer
// than Threshold tests score 0.
func (s Scorer) Score(ctx context.Context, q Tx, msisdn string) (float64, error) {
	total, err := q.CountTests(ctx, TestFilter{MSISDN: msisdn})
	if err != nil {
		return 0, fmt.Errorf("failed to count tests for %s: %w", msisdn, err)
	}
	if total < s.Threshold || total == 0 {
		return 0, nil
	}

	successful, err := q.CountTests(ctx, TestFilter{
		MSISDN:            msisdn,
		Status:            models.StatusSuccess,
		MaxRoutingLatency: s.Window,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count successful tests for %s: %w", msisdn, err)
	}

	return roundPercent(successful, total), nil
}

func roundPercent(part, total int64) float64 {
	return math.Round(float64(part)*100*100/float64(total)) / 100
}
