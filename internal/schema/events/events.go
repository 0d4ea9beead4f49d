package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Type names a lifecycle event. Values double as the NATS subject suffix.
type Type string

const (
	TypeSchemaRegistered Type = "schema.registered"
	TypeSchemaActivated  Type = "schema.activated"
	TypeSchemaDeprecated Type = "schema.deprecated"
	TypeSchemaDeleted    Type = "schema.deleted"
	TypeSchemaRejected   Type = "schema.rejected"
)

// Event announces a lifecycle change to downstream consumers. Delivery is
// fire-and-forget; the registry makes no promises about retries or ordering.
type Event struct {
	ID       string                 `json:"id"`
	Type     Type                   `json:"type"`
	Subject  string                 `json:"subject"`
	SchemaID string                 `json:"schema_id,omitempty"`
	Version  string                 `json:"version,omitempty"`
	Actor    string                 `json:"actor,omitempty"`
	Time     time.Time              `json:"time"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(t Type, subject string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Subject: subject,
		Time:    time.Now().UTC(),
	}
}

// Publisher delivers lifecycle events to an external fabric.
type Publisher interface {
	Publish(ev Event)
}

// NATSPublisher publishes events to <prefix>.<type> NATS subjects. Publish
// failures are logged and dropped.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on the given connection. An empty
// prefix defaults to "schemaguard.events".
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "schemaguard.events"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error("publish event", "subject", subject, "error", err)
	}
}

// Noop discards all events. Used in tests and when no NATS connection is
// configured.
type Noop struct{}

func (Noop) Publish(Event) {}
