// Package events publishes transaction change notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"ledger/internal/models"
)

const (
	TransactionCreated = "transaction.created"
	TransactionUpdated = "transaction.updated"
	TransactionDeleted = "transaction.deleted"
)

// Event describes one committed change to a transaction.
type Event struct {
	Type          string              `json:"type"`
	TransactionID int64               `json:"transaction_id"`
	OwnerID       int64               `json:"owner_id"`
	ActorID       int64               `json:"actor_id"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event body produced by ToJSON.
func FromJSON(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
