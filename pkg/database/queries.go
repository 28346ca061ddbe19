package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"

	"github.com/uptrace/bun"
)

// queries implements reliability.Tx on either the pool or a transaction.
type queries struct {
	db        bun.IDB
	forUpdate bool
}

type condition struct {
	query string
	args  []interface{}
}

func conditions(f reliability.TestFilter) []condition {
	var conds []condition
	if f.MSISDN != "" {
		conds = append(conds, condition{"msisdn = ?", []interface{}{f.MSISDN}})
	}
	if f.Status != "" {
		conds = append(conds, condition{"status = ?", []interface{}{string(f.Status)}})
	}
	if !f.StartedBefore.IsZero() {
		conds = append(conds, condition{"start_time < ?", []interface{}{f.StartedBefore}})
	}
	if f.MaxRoutingLatency > 0 {
		conds = append(conds, condition{
			"sms_routed_time IS NOT NULL AND sms_received_time IS NOT NULL AND sms_routed_time - sms_received_time <= make_interval(secs => ?)",
			[]interface{}{f.MaxRoutingLatency.Seconds()},
		})
	}
	return conds
}

func (q queries) GetTest(ctx context.Context, id string) (*models.ReliabilityTest, error) {
	var test models.ReliabilityTest
	sel := q.db.NewSelect().
		Model(&test).
		Where("id = ?", id)
	if q.forUpdate {
		sel = sel.For("UPDATE")
	}

	if err := sel.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reliability.ErrTestNotFound
		}
		return nil, fmt.Errorf("error querying test %s: %w", id, err)
	}

	return &test, nil
}

func (q queries) SaveTest(ctx context.Context, test *models.ReliabilityTest) error {
	_, err := q.db.NewUpdate().
		Model(test).
		Column("sms_sent_time", "sms_received_time", "sms_routed_time", "status").
		WherePK().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error updating test %s: %w", test.ID, err)
	}

	return nil
}

func (q queries) BulkUpdateStatus(ctx context.Context, filter reliability.TestFilter, status models.Status) (int64, error) {
	conds := conditions(filter)
	if len(conds) == 0 {
		return 0, errors.New("refusing to update the status of every test")
	}

	upd := q.db.NewUpdate().
		Model((*models.ReliabilityTest)(nil)).
		Set("status = ?", string(status))
	for _, c := range conds {
		upd = upd.Where(c.query, c.args...)
	}

	res, err := upd.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("error updating test status: %w", err)
	}

	return res.RowsAffected()
}

func (q queries) CountTests(ctx context.Context, filter reliability.TestFilter) (int64, error) {
	sel := q.db.NewSelect().Model((*models.ReliabilityTest)(nil))
	for _, c := range conditions(filter) {
		sel = sel.Where(c.query, c.args...)
	}

	n, err := sel.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting tests: %w", err)
	}

	return int64(n), nil
}

func (q queries) UpdateClientReliability(ctx context.Context, msisdn string, value float64) error {
	_, err := q.db.NewUpdate().
		Model((*models.GatewayClient)(nil)).
		Set("reliability = ?", value).
		Where("msisdn = ?", msisdn).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update client reliability: %w", err)
	}

	return nil
}
