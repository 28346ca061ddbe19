// Package sqlstore implements reliability.Store on gorm for the MySQL and
// SQLite engines.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reliability-tracker/pkg/config"
	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrClientNotFound is returned by GetClient for an unknown msisdn.
var ErrClientNotFound = errors.New("gateway client not found")

type Store struct {
	db *gorm.DB
	queries
}

var _ reliability.Store = (*Store)(nil)

// Open connects to the configured engine. Only mysql and sqlite are handled
// here; postgres lives in pkg/database.
func Open(cfg config.Database) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Engine {
	case config.EngineMySQL:
		slog.Debug("Connecting to MySQL", "host", cfg.MySQL.Host, "database", cfg.MySQL.Database)
		if err := ensureDatabase(cfg.MySQL); err != nil {
			return nil, err
		}
		dialector = mysql.Open(cfg.MySQL.DSN())
	case config.EngineSQLite:
		slog.Debug("Connecting to SQLite", "path", cfg.SQLite.Path)
		dialector = sqlite.Open(cfg.SQLite.Path + "?_foreign_keys=on&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unsupported engine for sqlstore: %s", cfg.Engine)
	}
	return New(dialector)
}

// ensureDatabase creates the configured MySQL database if it is missing.
func ensureDatabase(cfg config.MySQL) error {
	db, err := gorm.Open(mysql.Open(cfg.ServerDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.Exec(createDatabaseSQL(cfg.Database)).Error; err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
	}
	return nil
}

func createDatabaseSQL(name string) string {
	return "CREATE DATABASE IF NOT EXISTS `" + strings.ReplaceAll(name, "`", "``") + "`"
}

func New(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db, queries: newQueries(db, false)}, nil
}

// InitSchema creates or updates the gateway_clients and reliability_tests tables.
func (s *Store) InitSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.GatewayClient{}, &models.ReliabilityTest{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTransaction runs fn in a read committed transaction. On MySQL GetTest
// takes a row lock with SELECT ... FOR UPDATE; SQLite has no row locks and
// relies on its database write lock instead.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx reliability.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	if s.isSQLite() {
		opts = nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, newQueries(tx, true))
	}, opts)
}

func (s *Store) UpsertClient(ctx context.Context, client *models.GatewayClient) error {
	if client.LastPublishedDate.IsZero() {
		client.LastPublishedDate = time.Now()
	}
	client.LastPublishedDate = client.LastPublishedDate.UTC()
	err := s.db.WithContext(ctx).
		Omit("reliability", clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "msisdn"}},
			DoUpdates: clause.AssignmentColumns([]string{"country", "operator", "operator_code", "protocols", "last_published_date"}),
		}).
		Create(client).Error
	if err != nil {
		return fmt.Errorf("error upserting client: %w", err)
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, msisdn string) (*models.GatewayClient, error) {
	var client models.GatewayClient
	err := s.db.WithContext(ctx).Where("msisdn = ?", msisdn).Take(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying client: %w", err)
	}
	return &client, nil
}

// CreateTest inserts a new pending test for an existing client.
func (s *Store) CreateTest(ctx context.Context, test *models.ReliabilityTest) error {
	test.Status = models.StatusPending
	if test.StartTime.IsZero() {
		test.StartTime = time.Now()
	}
	test.StartTime = test.StartTime.UTC()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(test).Error; err != nil {
		return fmt.Errorf("error inserting test: %w", err)
	}
	return nil
}

func (s *Store) isSQLite() bool {
	return s.db.Dialector.Name() == "sqlite"
}
