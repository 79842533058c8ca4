package inproc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := New(4)
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")
	assert.Equal(t, a, bus.Subscribe("a"), "subscribing twice returns the same channel")
	assert.Equal(t, 2, bus.Subscribers())

	require.NoError(t, bus.Publish(domain.ChatMessage{ID: "1"}))
	assert.Equal(t, "1", (<-a).ID)
	assert.Equal(t, "1", (<-b).ID)
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	bus := New(1)
	slow := bus.Subscribe("slow")
	fast := bus.Subscribe("fast")

	require.NoError(t, bus.Publish(domain.ChatMessage{ID: "1"}))
	<-fast

	err := bus.Publish(domain.ChatMessage{ID: "2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubscriberQueueFull))
	assert.Equal(t, "2", (<-fast).ID)
	assert.Equal(t, "1", (<-slow).ID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(1)
	ch := bus.Subscribe("x")
	bus.Unsubscribe("x")
	bus.Unsubscribe("x")

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(domain.ChatMessage{ID: "1"}))
	assert.Equal(t, 0, bus.Subscribers())
}
