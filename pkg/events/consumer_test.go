package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"reliability-tracker/pkg/reliability"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type fakeReader struct {
	messages  []*kafka.Message
	errs      []error
	committed []*kafka.Message
	seeks     int
	closed    bool
	onDrained func()
	last      *kafka.Message
}

func (f *fakeReader) ReadMessage(timeout time.Duration) (*kafka.Message, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.messages) == 0 {
		f.onDrained()
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	f.last = m
	return m, nil
}

func (f *fakeReader) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.committed = append(f.committed, m)
	return nil, nil
}

// Seek puts the last read message back at the head of the queue.
func (f *fakeReader) Seek(partition kafka.TopicPartition, timeoutMs int) error {
	f.seeks++
	f.messages = append([]*kafka.Message{f.last}, f.messages...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type update struct {
	id  string
	req reliability.UpdateRequest
}

type recordingProtocol struct {
	updates []update
	// failures is how many more times Update reports a storage error per id.
	failures map[string]int
}

func (p *recordingProtocol) Create(ctx context.Context, fields map[string]interface{}) reliability.Result {
	return reliability.Result{}
}

func (p *recordingProtocol) Read(ctx context.Context, id string) reliability.Result {
	return reliability.Result{}
}

func (p *recordingProtocol) Delete(ctx context.Context, id string) reliability.Result {
	return reliability.Result{}
}

func (p *recordingProtocol) Update(ctx context.Context, id string, req reliability.UpdateRequest) reliability.Result {
	p.updates = append(p.updates, update{id: id, req: req})
	if p.failures[id] > 0 {
		p.failures[id]--
		return reliability.Result{Reason: reliability.ReasonStorage, Message: "storage error during transaction"}
	}
	if id == "done" {
		return reliability.Result{Reason: reliability.ReasonAlreadyTerminal}
	}
	return reliability.Result{Success: true}
}

func message(key, value string) *kafka.Message {
	return &kafka.Message{Key: []byte(key), Value: []byte(value)}
}

func runConsumer(t *testing.T, reader *fakeReader) (*recordingProtocol, error) {
	t.Helper()
	return runConsumerWith(t, reader, &recordingProtocol{})
}

func runConsumerWith(t *testing.T, reader *fakeReader, p *recordingProtocol) (*recordingProtocol, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader.onDrained = cancel

	c := newConsumer(reader, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.pollTimeout = time.Millisecond
	c.retryBackoff = time.Millisecond
	return p, c.Run(ctx)
}

func TestConsumerRun(t *testing.T) {
	reader := &fakeReader{
		messages: []*kafka.Message{
			message("", `{"test_id": "t1", "sms_sent_timestamp": 1709294400000, "sms_received_timestamp": 1709294401000}`),
			message("t2", `{"sms_sent_timestamp": "1709294400000", "sms_received_timestamp": "1709294401000"}`),
			message("", `not json`),
			message("", `{"sms_sent_timestamp": 1}`),
			message("", `{"test_id": "done", "sms_sent_timestamp": 1, "sms_received_timestamp": 2}`),
		},
	}

	p, err := runConsumer(t, reader)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []update{
		{"t1", reliability.UpdateRequest{SMSSentTimestamp: "1709294400000", SMSReceivedTimestamp: "1709294401000"}},
		{"t2", reliability.UpdateRequest{SMSSentTimestamp: "1709294400000", SMSReceivedTimestamp: "1709294401000"}},
		{"done", reliability.UpdateRequest{SMSSentTimestamp: "1", SMSReceivedTimestamp: "2"}},
	}
	if len(p.updates) != len(want) {
		t.Fatalf("updates = %+v, want %+v", p.updates, want)
	}
	for i := range want {
		if p.updates[i] != want[i] {
			t.Errorf("update %d = %+v, want %+v", i, p.updates[i], want[i])
		}
	}

	// undecodable and rejected events are still committed so they are not redelivered
	if len(reader.committed) != 5 {
		t.Errorf("committed %d messages, want 5", len(reader.committed))
	}
	if !reader.closed {
		t.Error("reader not closed after Run")
	}
}

func TestConsumerRun_FatalError(t *testing.T) {
	reader := &fakeReader{
		errs: []error{kafka.NewError(kafka.ErrFatal, "broker gone", true)},
	}

	_, err := runConsumer(t, reader)
	if err == nil {
		t.Fatal("Run() expected error on fatal kafka error")
	}
	if !reader.closed {
		t.Error("reader not closed after fatal error")
	}
}

func TestConsumerRun_TransientErrorContinues(t *testing.T) {
	reader := &fakeReader{
		errs:     []error{kafka.NewError(kafka.ErrTransport, "connection reset", false)},
		messages: []*kafka.Message{message("t1", `{"sms_sent_timestamp": 1, "sms_received_timestamp": 2}`)},
	}

	p, err := runConsumer(t, reader)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(p.updates) != 1 {
		t.Errorf("updates = %d, want 1", len(p.updates))
	}
}

func TestConsumerRun_StorageFailureIsRedelivered(t *testing.T) {
	msg := message("t1", `{"sms_sent_timestamp": 1, "sms_received_timestamp": 2}`)
	reader := &fakeReader{messages: []*kafka.Message{msg}}
	p := &recordingProtocol{failures: map[string]int{"t1": 2}}

	_, err := runConsumerWith(t, reader, p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(p.updates) != 3 {
		t.Errorf("updates = %d, want 3 (two failures then success)", len(p.updates))
	}
	if reader.seeks != 2 {
		t.Errorf("seeks = %d, want 2", reader.seeks)
	}
	if len(reader.committed) != 1 || reader.committed[0] != msg {
		t.Errorf("committed = %d messages, want only the final successful delivery", len(reader.committed))
	}
}
