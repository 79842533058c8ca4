package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
)

func runServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublisherSendsJSON(t *testing.T) {
	srv := runServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe(DefaultSubject, received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(srv.ClientURL(), "", nil)
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, DefaultSubject, pub.Subject())

	sent := domain.ChatMessage{
		ID:         "m1",
		SenderID:   domain.HumanSenderID,
		SenderName: "User",
		Body:       "hello",
		Kind:       domain.MessageKindHuman,
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, pub.Publish(sent))

	select {
	case msg := <-received:
		var got domain.ChatMessage
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, sent, got)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "x", nil)
	assert.Error(t, err)
}
