package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	ev := New(TypeSchemaRegistered, "orders")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeSchemaRegistered, ev.Type)
	assert.Equal(t, "orders", ev.Subject)
	assert.WithinDuration(t, time.Now(), ev.Time, time.Minute)

	other := New(TypeSchemaRegistered, "orders")
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestNATSPublisher(t *testing.T) {
	opts := &server.Options{Port: -1}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	defer ns.Shutdown()

	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("registry.events.schema.deprecated", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := NewNATSPublisher(nc, "registry.events")
	ev := New(TypeSchemaDeprecated, "orders")
	ev.SchemaID = "abc"
	ev.Version = "1.2.0"
	ev.Actor = "alice"
	pub.Publish(ev)

	select {
	case msg := <-received:
		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Data, &decoded))
		assert.Equal(t, ev.ID, decoded.ID)
		assert.Equal(t, TypeSchemaDeprecated, decoded.Type)
		assert.Equal(t, "orders", decoded.Subject)
		assert.Equal(t, "1.2.0", decoded.Version)
		assert.Equal(t, "alice", decoded.Actor)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNoopPublisher(t *testing.T) {
	// Must not panic without a connection
	Noop{}.Publish(New(TypeSchemaDeleted, "orders"))
}
