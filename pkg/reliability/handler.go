package reliability

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"reliability-tracker/pkg/models"
)

// Recorder receives every committed completion. Failures are logged and do
// not affect the completion.
type Recorder interface {
	RecordCompletion(ctx context.Context, test models.ReliabilityTest, reliability float64) error
}

// Completion describes a test that was moved from pending to success.
type Completion struct {
	TestID      string
	MSISDN      string
	Status      models.Status
	RoutedAt    time.Time
	Reliability float64
}

type Settings struct {
	Timeout   time.Duration
	Threshold int64
	Window    time.Duration
	Recorder  Recorder
	Clock     func() time.Time
}

// Handler applies completion events to pending tests.
type Handler struct {
	store    Store
	sweeper  *Sweeper
	scorer   Scorer
	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger
}

func NewHandler(store Store, settings Settings, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	clock := settings.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		store:    store,
		sweeper:  NewSweeper(settings.Timeout, logger),
		scorer:   NewScorer(settings.Threshold, settings.Window),
		recorder: settings.Recorder,
		now:      clock,
		logger:   logger,
	}
}

func (h *Handler) Sweeper() *Sweeper { return h.sweeper }

// Score computes msisdn's reliability from its current test history.
func (h *Handler) Score(ctx context.Context, msisdn string) (float64, error) {
	score, err := h.scorer.Score(ctx, h.store, msisdn)
	if err != nil {
		return 0, &StorageError{Op: "score", Err: err}
	}
	return score, nil
}

// Complete records the sent and received times of a pending test, marks it
// successful and recomputes the owning client's reliability. Timestamps are
// epoch milliseconds.
//
// Expired tests are swept first so a late completion never revives them. The
// fetch, the terminal check, the update and the score write share one
// transaction holding a lock on the test row, so of two racing completions
// the second always sees the first one's terminal status.
func (h *Handler) Complete(ctx context.Context, testID, sentTimestamp, receivedTimestamp string) (*Completion, error) {
	sentAt, err := parseEpochMillis("sms_sent_timestamp", sentTimestamp)
	if err != nil {
		h.logger.Error("Rejected completion", "test_id", testID, "error", err)
		return nil, err
	}
	receivedAt, err := parseEpochMillis("sms_received_timestamp", receivedTimestamp)
	if err != nil {
		h.logger.Error("Rejected completion", "test_id", testID, "error", err)
		return nil, err
	}

	if _, err := h.sweeper.Sweep(ctx, h.store, h.now()); err != nil {
		h.logger.Error("Sweep before completion failed", "test_id", testID, "error", err)
		return nil, &StorageError{Op: "sweep", Err: err}
	}

	var (
		completion *Completion
		completed  models.ReliabilityTest
	)
	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		test, err := tx.GetTest(ctx, testID)
		if errors.Is(err, ErrTestNotFound) {
			return &NotFoundError{TestID: testID}
		}
		if err != nil {
			return &StorageError{Op: "get test", Err: err}
		}

		if test.Status.Terminal() {
			return &TerminalError{TestID: testID, MSISDN: test.MSISDN, Status: test.Status}
		}

		routedAt := h.now()
		test.SMSSentTime = &sentAt
		test.SMSReceivedTime = &receivedAt
		test.SMSRoutedTime = &routedAt
		test.Status = models.StatusSuccess
		if err := tx.SaveTest(ctx, test); err != nil {
			return &StorageError{Op: "save test", Err: err}
		}

		score, err := h.scorer.Score(ctx, tx, test.MSISDN)
		if err != nil {
			return &StorageError{Op: "score", Err: err}
		}
		if err := tx.UpdateClientReliability(ctx, test.MSISDN, score); err != nil {
			return &StorageError{Op: "update client reliability", Err: err}
		}

		completed = *test
		completion = &Completion{
			TestID:      testID,
			MSISDN:      test.MSISDN,
			Status:      test.Status,
			RoutedAt:    routedAt,
			Reliability: score,
		}
		return nil
	})
	if err != nil {
		return nil, h.failure(testID, err)
	}

	h.logger.Info("Test completed",
		"test_id", testID,
		"msisdn", completion.MSISDN,
		"status", completion.Status,
		"reliability", completion.Reliability)

	if h.recorder != nil {
		if err := h.recorder.RecordCompletion(ctx, completed, completion.Reliability); err != nil {
			h.logger.Warn("Failed to record completion", "test_id", testID, "error", err)
		}
	}

	return completion, nil
}

func (h *Handler) failure(testID string, err error) error {
	var (
		terminal *TerminalError
		notFound *NotFoundError
		storage  *StorageError
	)
	switch {
	case errors.As(err, &terminal):
		h.logger.Info("Ignoring completion for terminal test",
			"test_id", testID,
			"msisdn", terminal.MSISDN,
			"status", terminal.Status)
		return terminal
	case errors.As(err, &notFound):
		h.logger.Error("Test not found", "test_id", testID)
		return notFound
	case errors.As(err, &storage):
		h.logger.Error("Completion failed",
			"test_id", testID,
			"op", storage.Op,
			"attempted_status", models.StatusSuccess,
			"error", storage.Err)
		return storage
	default:
		h.logger.Error("Completion transaction failed",
			"test_id", testID,
			"attempted_status", models.StatusSuccess,
			"error", err)
		return &StorageError{Op: "transaction", Err: err}
	}
}

func parseEpochMillis(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	required := &ValidationError{Field: field, Message: field + " is required"}
	if value == "" {
		return time.Time{}, required
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err == nil && ms == 0 {
		return time.Time{}, required
	}
	if err != nil || ms < 0 {
		return time.Time{}, &ValidationError{Field: field, Message: field + " must be a positive integer epoch timestamp in milliseconds"}
	}
	return time.UnixMilli(ms), nil
}
