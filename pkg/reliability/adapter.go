package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Timestamp is an inbound epoch timestamp. It decodes from a JSON number, a
// JSON string or null, and keeps the raw text so the handler can validate it.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp must be a number or string: %w", err)
	}
	*t = Timestamp(n.String())
	return nil
}

type UpdateRequest struct {
	SMSSentTimestamp     Timestamp `json:"sms_sent_timestamp"`
	SMSReceivedTimestamp Timestamp `json:"sms_received_timestamp"`
}

// Reason classifies a failed Result.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonInvalid         Reason = "invalid"
	ReasonNotFound        Reason = "not_found"
	ReasonAlreadyTerminal Reason = "already_terminal"
	ReasonStorage         Reason = "storage_error"
	ReasonUnsupported     Reason = "unsupported"
)

// Result is what the protocol boundary sees for every call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  Reason `json:"reason,omitempty"`
}

// EventProtocol is the capability surface a host dispatcher invokes.
type EventProtocol interface {
	Create(ctx context.Context, fields map[string]interface{}) Result
	Read(ctx context.Context, resourceID string) Result
	Update(ctx context.Context, resourceID string, req UpdateRequest) Result
	Delete(ctx context.Context, resourceID string) Result
}

// Completer is the part of Handler the adapter depends on.
type Completer interface {
	Complete(ctx context.Context, testID, sentTimestamp, receivedTimestamp string) (*Completion, error)
}

// EventAdapter exposes test completion as the update operation. Reliability
// tests cannot be created, read or deleted through the protocol.
type EventAdapter struct {
	completer Completer
	logger    *slog.Logger
}

var _ EventProtocol = (*EventAdapter)(nil)

func NewEventAdapter(completer Completer, logger *slog.Logger) *EventAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventAdapter{completer: completer, logger: logger}
}

func (a *EventAdapter) Create(ctx context.Context, fields map[string]interface{}) Result {
	return unsupported("create")
}

func (a *EventAdapter) Read(ctx context.Context, resourceID string) Result {
	return unsupported("read")
}

func (a *EventAdapter) Delete(ctx context.Context, resourceID string) Result {
	return unsupported("delete")
}

func (a *EventAdapter) Update(ctx context.Context, resourceID string, req UpdateRequest) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Update panicked", "test_id", resourceID, "panic", r)
			result = Result{Success: false, Message: "internal error", Reason: ReasonStorage}
		}
	}()

	_, err := a.completer.Complete(ctx, resourceID, string(req.SMSSentTimestamp), string(req.SMSReceivedTimestamp))
	if err != nil {
		return resultFromError(err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Test ID %s updated successfully.", resourceID),
	}
}

func resultFromError(err error) Result {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		terminal   *TerminalError
	)
	result := Result{Success: false, Message: err.Error()}
	switch {
	case errors.As(err, &validation):
		result.Reason = ReasonInvalid
	case errors.As(err, &notFound):
		result.Reason = ReasonNotFound
	case errors.As(err, &terminal):
		result.Reason = ReasonAlreadyTerminal
	default:
		result.Reason = ReasonStorage
	}
	return result
}

func unsupported(op string) Result {
	return Result{
		Success: false,
		Message: op + " is not supported for reliability tests",
		Reason:  ReasonUnsupported,
	}
}
