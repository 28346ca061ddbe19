package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reliability-tracker/pkg/models"
)

// ErrClientNotFound is returned by GetClient for an unknown msisdn.
var ErrClientNotFound = errors.New("gateway client not found")

// UpsertClient inserts a gateway client or refreshes its registration
// details. The reliability column is never overwritten here.
func (db *DB) UpsertClient(ctx context.Context, client *models.GatewayClient) error {
	if client.LastPublishedDate.IsZero() {
		client.LastPublishedDate = time.Now()
	}

	_, err := db.NewInsert().
		Model(client).
		ExcludeColumn("reliability").
		On("CONFLICT (msisdn) DO UPDATE").
		Set("country = EXCLUDED.country").
		Set("operator = EXCLUDED.operator").
		Set("operator_code = EXCLUDED.operator_code").
		Set("protocols = EXCLUDED.protocols").
		Set("last_published_date = EXCLUDED.last_published_date").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error upserting client: %w", err)
	}

	return nil
}

func (db *DB) GetClient(ctx context.Context, msisdn string) (*models.GatewayClient, error) {
	var client models.GatewayClient
	err := db.NewSelect().
		Model(&client).
		Where("msisdn = ?", msisdn).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("error querying client: %w", err)
	}

	return &client, nil
}

// CreateTest inserts a new pending test for an existing client.
func (db *DB) CreateTest(ctx context.Context, test *models.ReliabilityTest) error {
	test.Status = models.StatusPending
	if test.StartTime.IsZero() {
		test.StartTime = time.Now()
	}

	_, err := db.NewInsert().
		Model(test).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error inserting test: %w", err)
	}

	return nil
}
