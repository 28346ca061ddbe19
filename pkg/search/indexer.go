// Package search indexes completed reliability tests into Elasticsearch for
// reporting. The index is a copy for analytics; scores are always computed
// from the database.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reliability-tracker/pkg/config"
	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"msisdn":             {"type": "keyword"},
			"status":             {"type": "keyword"},
			"start_time":         {"type": "date"},
			"sms_sent_time":      {"type": "date"},
			"sms_received_time":  {"type": "date"},
			"sms_routed_time":    {"type": "date"},
			"routing_latency_ms": {"type": "long"},
			"client_reliability": {"type": "scaled_float", "scaling_factor": 100}
		}
	}
}`

// Indexer implements reliability.Recorder.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

var _ reliability.Recorder = (*Indexer)(nil)

func NewIndexer(cfg config.Elasticsearch, logger *slog.Logger) (*Indexer, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{client: client, index: cfg.Index, logger: logger}, nil
}

// EnsureIndex creates the index with its mapping unless it already exists.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := ix.client.Indices.Exists([]string{ix.index}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check if index %s exists: %w", ix.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	req := esapi.IndicesCreateRequest{
		Index: ix.index,
		Body:  strings.NewReader(indexMapping),
	}
	res, err = req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", ix.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch error creating index %s: %s", ix.index, res.String())
	}

	ix.logger.Info("Created elasticsearch index", "index", ix.index)
	return nil
}

type document struct {
	ID                string     `json:"id"`
	MSISDN            string     `json:"msisdn"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"start_time"`
	SMSSentTime       *time.Time `json:"sms_sent_time,omitempty"`
	SMSReceivedTime   *time.Time `json:"sms_received_time,omitempty"`
	SMSRoutedTime     *time.Time `json:"sms_routed_time,omitempty"`
	RoutingLatencyMs  int64      `json:"routing_latency_ms"`
	ClientReliability float64    `json:"client_reliability"`
}

func newDocument(test models.ReliabilityTest, reliability float64) document {
	return document{
		ID:                test.ID,
		MSISDN:            test.MSISDN,
		Status:            string(test.Status),
		StartTime:         test.StartTime,
		SMSSentTime:       test.SMSSentTime,
		SMSReceivedTime:   test.SMSReceivedTime,
		SMSRoutedTime:     test.SMSRoutedTime,
		RoutingLatencyMs:  test.RoutingLatency().Milliseconds(),
		ClientReliability: reliability,
	}
}

func (ix *Indexer) RecordCompletion(ctx context.Context, test models.ReliabilityTest, reliability float64) error {
	body, err := json.Marshal(newDocument(test, reliability))
	if err != nil {
		return fmt.Errorf("error marshaling document to JSON: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      ix.index,
		DocumentID: test.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("failed to index test %s: %w", test.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch error indexing test %s: %s", test.ID, res.String())
	}

	ix.logger.Debug("Indexed completed test", "test_id", test.ID, "index", ix.index)
	return nil
}
