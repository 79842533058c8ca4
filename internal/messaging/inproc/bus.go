package inproc

import (
	"errors"
	"fmt"
	"sync"

	"agora/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

// Bus broadcasts every published chat message to all subscribers. Slow
// subscribers lose messages instead of blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.ChatMessage
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.ChatMessage),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(id string) <-chan domain.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		return ch
	}
	ch := make(chan domain.ChatMessage, b.buffer)
	b.subs[id] = ch
	return ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Publish(msg domain.ChatMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrSubscriberQueueFull, id))
		}
	}
	return errors.Join(errs...)
}
