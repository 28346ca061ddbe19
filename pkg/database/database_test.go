package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"
)

const testMSISDN = "+237600000001"

// setupTestDB connects to the database named by RELIABILITY_TEST_POSTGRES_DSN
// and empties both tables. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("RELIABILITY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RELIABILITY_TEST_POSTGRES_DSN not set")
	}

	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE reliability_tests, gateway_clients"); err != nil {
		t.Fatalf("truncate error = %v", err)
	}

	err = db.UpsertClient(ctx, &models.GatewayClient{
		MSISDN:       testMSISDN,
		Country:      "Cameroon",
		Operator:     "MTN",
		OperatorCode: "62401",
		Protocols:    models.Protocols{"sms"},
	})
	if err != nil {
		t.Fatalf("UpsertClient() error = %v", err)
	}
	return db
}

func addTest(t *testing.T, db *DB, id string, start time.Time) {
	t.Helper()
	if err := db.CreateTest(context.Background(), &models.ReliabilityTest{ID: id, MSISDN: testMSISDN, StartTime: start}); err != nil {
		t.Fatalf("CreateTest(%s) error = %v", id, err)
	}
}

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPostgres_CountRoutingLatencyWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, latency := range []time.Duration{10 * time.Second, 300 * time.Second, 301 * time.Second, time.Hour} {
		id := fmt.Sprintf("t%d", i)
		addTest(t, db, id, t0)
		received := t0.Add(time.Second)
		routed := received.Add(latency)
		err := db.SaveTest(ctx, &models.ReliabilityTest{
			ID:              id,
			SMSSentTime:     &t0,
			SMSReceivedTime: &received,
			SMSRoutedTime:   &routed,
			Status:          models.StatusSuccess,
		})
		if err != nil {
			t.Fatalf("SaveTest() error = %v", err)
		}
	}

	n, err := db.CountTests(ctx, reliability.TestFilter{
		MSISDN:            testMSISDN,
		Status:            models.StatusSuccess,
		MaxRoutingLatency: 300 * time.Second,
	})
	if err != nil {
		t.Fatalf("CountTests() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountTests() within window = %d, want 2", n)
	}
}

func TestPostgres_HandlerEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// six completed quickly, three expired, one still pending
	for i := 0; i < 10; i++ {
		start := now.Add(-time.Minute)
		if i >= 6 && i < 9 {
			start = now.Add(-time.Hour)
		}
		addTest(t, db, fmt.Sprintf("t%d", i), start)
	}

	h := reliability.NewHandler(db, reliability.Settings{Clock: func() time.Time { return now }}, quietLogger())
	sent, received := millis(now.Add(-20*time.Second)), millis(now.Add(-10*time.Second))
	for i := 0; i < 6; i++ {
		if _, err := h.Complete(ctx, fmt.Sprintf("t%d", i), sent, received); err != nil {
			t.Fatalf("Complete(t%d) error = %v", i, err)
		}
	}

	_, err := h.Complete(ctx, "t7", sent, received)
	var terminal *reliability.TerminalError
	if !errors.As(err, &terminal) || terminal.Status != models.StatusTimedOut {
		t.Errorf("Complete(expired) error = %v, want timedout rejection", err)
	}

	client, err := db.GetClient(ctx, testMSISDN)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if client.Reliability != 60 {
		t.Errorf("Reliability = %.2f, want 60.00", client.Reliability)
	}
}

func TestPostgres_ConcurrentCompletion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()
	addTest(t, db, "t1", now)

	h := reliability.NewHandler(db, reliability.Settings{}, quietLogger())
	sent, received := millis(now), millis(now.Add(time.Second))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		terminals int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Complete(ctx, "t1", sent, received)
			var terminal *reliability.TerminalError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.As(err, &terminal):
				terminals++
			default:
				t.Errorf("Complete() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || terminals != workers-1 {
		t.Errorf("successes = %d, terminal rejections = %d, want 1 and %d", successes, terminals, workers-1)
	}
}
