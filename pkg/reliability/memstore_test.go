package reliability

import (
	"context"
	"errors"
	"sync"
	"time"

	"reliability-tracker/pkg/models"
)

// memStore is an in-memory Store. Transactions are serialized by txMu, which
// stands in for the row lock a SQL store takes in GetTest.
type memStore struct {
	txMu sync.Mutex

	mu                sync.Mutex
	tests             map[string]models.ReliabilityTest
	reliability       map[string]float64
	reliabilityWrites int
	saves             int
	bulkUpdates       int
	failBulk          error
	failSave          error
}

func newMemStore() *memStore {
	return &memStore{
		tests:       make(map[string]models.ReliabilityTest),
		reliability: make(map[string]float64),
	}
}

func (s *memStore) add(test models.ReliabilityTest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if test.Status == "" {
		test.Status = models.StatusPending
	}
	s.tests[test.ID] = test
}

func (s *memStore) get(id string) models.ReliabilityTest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests[id]
}

func (s *memStore) GetTest(ctx context.Context, id string) (*models.ReliabilityTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	return &test, nil
}

func (s *memStore) SaveTest(ctx context.Context, test *models.ReliabilityTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	s.tests[test.ID] = *test
	return nil
}

func (s *memStore) BulkUpdateStatus(ctx context.Context, filter TestFilter, status models.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkUpdates++
	if s.failBulk != nil {
		return 0, s.failBulk
	}
	var n int64
	for id, test := range s.tests {
		if matches(test, filter) {
			test.Status = status
			s.tests[id] = test
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountTests(ctx context.Context, filter TestFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, test := range s.tests {
		if matches(test, filter) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpdateClientReliability(ctx context.Context, msisdn string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reliabilityWrites++
	s.reliability[msisdn] = value
	return nil
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]models.ReliabilityTest, len(s.tests))
	for id, test := range s.tests {
		snapshot[id] = test
	}
	scores := make(map[string]float64, len(s.reliability))
	for msisdn, v := range s.reliability {
		scores[msisdn] = v
	}
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.mu.Lock()
			s.tests = snapshot
			s.reliability = scores
			s.mu.Unlock()
		}
	}()

	return fn(ctx, s)
}

func matches(test models.ReliabilityTest, f TestFilter) bool {
	if f.MSISDN != "" && test.MSISDN != f.MSISDN {
		return false
	}
	if f.Status != "" && test.Status != f.Status {
		return false
	}
	if !f.StartedBefore.IsZero() && !test.StartTime.Before(f.StartedBefore) {
		return false
	}
	if f.MaxRoutingLatency > 0 {
		if test.SMSRoutedTime == nil || test.SMSReceivedTime == nil {
			return false
		}
		if test.SMSRoutedTime.Sub(*test.SMSReceivedTime) > f.MaxRoutingLatency {
			return false
		}
	}
	return true
}

var errStorageDown = errors.New("connection refused")

func timePtr(t time.Time) *time.Time { return &t }
