package reliability

import (
	"context"
	"time"

	"reliability-tracker/pkg/models"
)

// TestFilter selects reliability tests. Zero-valued fields do not constrain
// the selection.
type TestFilter struct {
	MSISDN        string
	Status        models.Status
	StartedBefore time.Time
	// MaxRoutingLatency, when positive, keeps only tests with a routed time
	// no later than MaxRoutingLatency after their received time.
	MaxRoutingLatency time.Duration
}

// Tx is the set of storage operations the core performs. A Store satisfies it
// outside a transaction; the value passed to WithTransaction's callback
// satisfies it inside one.
type Tx interface {
	// GetTest returns ErrTestNotFound when id does not exist. Inside a
	// transaction the row stays locked until commit or rollback.
	GetTest(ctx context.Context, id string) (*models.ReliabilityTest, error)
	SaveTest(ctx context.Context, test *models.ReliabilityTest) error
	BulkUpdateStatus(ctx context.Context, filter TestFilter, status models.Status) (int64, error)
	CountTests(ctx context.Context, filter TestFilter) (int64, error)
	UpdateClientReliability(ctx context.Context, msisdn string, value float64) error
}

// Store is the persistence boundary for clients and tests.
type Store interface {
	Tx
	// WithTransaction runs fn in a transaction. It commits when fn returns
	// nil and rolls back on an error or panic. fn's error is returned as is.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
