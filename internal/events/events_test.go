package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "issueforge.session.42.phase", Subject(DefaultPrefix, 42, Phase))
}

func TestNATSPublisher_DeliversToSubscribers(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("issueforge.session.42.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, "", nil)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:      Phase,
		SessionID: 42,
		Owner:     "octo",
		Repo:      "widgets",
		Phase:     "researching",
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "issueforge.session.42.phase", msg.Subject)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, Phase, ev.Type)
	assert.Equal(t, "researching", ev.Phase)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNATSPublisher_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewNATSPublisher(nc, "custom", nil)
	err = p.Publish(context.Background(), Event{Type: Failed, SessionID: 7})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{Type: Started}))
}
