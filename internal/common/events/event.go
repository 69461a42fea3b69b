package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Common event types
const (
	// Payout events
	EventPayoutCreated   = "payout.created"
	EventPayoutExecuting = "payout.executing"
	EventPayoutCompleted = "payout.completed"
	EventPayoutFailed    = "payout.failed"
	EventPayoutCancelled = "payout.cancelled"

	// Bank account events
	EventBankAccountCreated    = "bank_account.created"
	EventBankAccountActivated  = "bank_account.activated"
	EventBankAccountVerified   = "bank_account.verified"
	EventBankAccountUnverified = "bank_account.unverified"
	EventBankAccountRemoved    = "bank_account.removed"

	// Dispersion events
	EventDispersionCompleted = "dispersion.completed"
	EventConfigUpdated       = "dispersion.config.updated"
)

// PayoutEventData is the data for payout lifecycle events
type PayoutEventData struct {
	PayoutID        string     `json:"payout_id"`
	VendorID        string     `json:"vendor_id"`
	Amount          int64      `json:"amount_minor"`
	AdminCommission int64      `json:"admin_commission_minor"`
	NetAmount       int64      `json:"net_amount_minor"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// BankAccountEventData is the data for bank account events
type BankAccountEventData struct {
	AccountID  string `json:"account_id"`
	VendorID   string `json:"vendor_id"`
	BankName   string `json:"bank_name"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
}

// DispersionCompletedData is the data for dispersion.completed events
type DispersionCompletedData struct {
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	RanAt      time.Time `json:"ran_at"`
}
