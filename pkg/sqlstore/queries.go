package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// queries implements reliability.Tx on the pool or on a transaction.
type queries struct {
	db        *gorm.DB
	dialect   string
	forUpdate bool
}

func newQueries(db *gorm.DB, forUpdate bool) queries {
	return queries{db: db, dialect: db.Dialector.Name(), forUpdate: forUpdate}
}

// routingLatency returns a condition comparing sms_routed_time minus
// sms_received_time to limit, in the engine's own date arithmetic.
func (q queries) routingLatency(limit time.Duration) (string, interface{}) {
	switch q.dialect {
	case "sqlite":
		// julianday is a float day count; round to whole milliseconds
		return "CAST(ROUND((julianday(sms_routed_time) - julianday(sms_received_time)) * 86400000) AS INTEGER) <= ?", limit.Milliseconds()
	default:
		return "TIMESTAMPDIFF(MICROSECOND, sms_received_time, sms_routed_time) <= ?", limit.Microseconds()
	}
}

func (q queries) filter(tx *gorm.DB, f reliability.TestFilter) *gorm.DB {
	if f.MSISDN != "" {
		tx = tx.Where("msisdn = ?", f.MSISDN)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	if !f.StartedBefore.IsZero() {
		tx = tx.Where("start_time < ?", f.StartedBefore.UTC())
	}
	if f.MaxRoutingLatency > 0 {
		expr, arg := q.routingLatency(f.MaxRoutingLatency)
		tx = tx.Where("sms_routed_time IS NOT NULL AND sms_received_time IS NOT NULL").
			Where(expr, arg)
	}
	return tx
}

func (q queries) GetTest(ctx context.Context, id string) (*models.ReliabilityTest, error) {
	tx := q.db.WithContext(ctx)
	if q.forUpdate && q.dialect != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var test models.ReliabilityTest
	err := tx.Where("id = ?", id).Take(&test).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reliability.ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying test %s: %w", id, err)
	}
	return &test, nil
}

func (q queries) SaveTest(ctx context.Context, test *models.ReliabilityTest) error {
	err := q.db.WithContext(ctx).
		Model(&models.ReliabilityTest{}).
		Where("id = ?", test.ID).
		Updates(map[string]interface{}{
			"sms_sent_time":     utc(test.SMSSentTime),
			"sms_received_time": utc(test.SMSReceivedTime),
			"sms_routed_time":   utc(test.SMSRoutedTime),
			"status":            string(test.Status),
		}).Error
	if err != nil {
		return fmt.Errorf("error updating test %s: %w", test.ID, err)
	}
	return nil
}

func (q queries) BulkUpdateStatus(ctx context.Context, f reliability.TestFilter, status models.Status) (int64, error) {
	if f == (reliability.TestFilter{}) {
		return 0, errors.New("refusing to update the status of every test")
	}
	res := q.filter(q.db.WithContext(ctx).Model(&models.ReliabilityTest{}), f).
		Update("status", string(status))
	if res.Error != nil {
		return 0, fmt.Errorf("error updating test status: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (q queries) CountTests(ctx context.Context, f reliability.TestFilter) (int64, error) {
	var n int64
	err := q.filter(q.db.WithContext(ctx).Model(&models.ReliabilityTest{}), f).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting tests: %w", err)
	}
	return n, nil
}

func (q queries) UpdateClientReliability(ctx context.Context, msisdn string, value float64) error {
	err := q.db.WithContext(ctx).
		Model(&models.GatewayClient{}).
		Where("msisdn = ?", msisdn).
		Update("reliability", value).Error
	if err != nil {
		return fmt.Errorf("failed to update client reliability: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
