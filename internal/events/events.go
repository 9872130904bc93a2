package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventSessionStarted       = "session_started"
	EventSessionEnded         = "session_ended"
	EventSessionExpired       = "session_expired"
	EventWalletConnected      = "wallet_connected"
	EventWalletDisconnected   = "wallet_disconnected"
	EventWalletAccountChanged = "wallet_account_changed"
)

type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source,omitempty"` // instance that emitted the event
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
