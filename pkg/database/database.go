package database

import (
	"context"
	"database/sql"
	"fmt"

	"reliability-tracker/pkg/config"
	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// DB is the Postgres implementation of reliability.Store.
type DB struct {
	*bun.DB
	queries
}

var _ reliability.Store = (*DB)(nil)

func NewDB(cfg config.Postgres) (*DB, error) {
	return Open(cfg.DSN())
}

// Open connects to the Postgres database at dsn.
func Open(dsn string) (*DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, queries: queries{db: db}}, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.GatewayClient)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create gateway_clients table: %w", err)
	}

	_, err = db.NewCreateTable().
		Model((*models.ReliabilityTest)(nil)).
		IfNotExists().
		ForeignKey(`("msisdn") REFERENCES "gateway_clients" ("msisdn") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create reliability_tests table: %w", err)
	}

	for _, idx := range []struct {
		name    string
		columns []string
	}{
		{"reliability_tests_msisdn_idx", []string{"msisdn"}},
		{"reliability_tests_status_start_time_idx", []string{"status", "start_time"}},
	} {
		_, err = db.NewCreateIndex().
			Model((*models.ReliabilityTest)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

// WithTransaction runs fn in a read committed transaction. GetTest calls made
// through the transaction lock the selected row with SELECT ... FOR UPDATE.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx reliability.Tx) error) error {
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, queries{db: tx, forUpdate: true})
	})
}
