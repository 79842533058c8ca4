package chat

import (
	"sync"

	"agora/internal/domain"
)

const DefaultCapacity = 200

// Log is the bounded, append-only chat log shared by every submitter and
// responder. Overflow evicts the oldest entries.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []domain.ChatMessage
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]domain.ChatMessage, 0, capacity),
	}
}

func (l *Log) Append(msg domain.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, msg)
	if over := len(l.entries) - l.capacity; over > 0 {
		clear(l.entries[:over])
		l.entries = l.entries[over:]
	}
}

// Recent returns up to limit entries, newest last. limit <= 0 returns all.
func (l *Log) Recent(limit int) []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(l.entries) {
		start = len(l.entries) - limit
	}
	out := make([]domain.ChatMessage, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Before returns up to n entries that precede the message with the given id.
// When the message is no longer in the log the last n entries are returned.
func (l *Log) Before(id string, n int) []domain.ChatMessage {
	if n <= 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	end := len(l.entries)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			end = i
			break
		}
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.ChatMessage, end-start)
	copy(out, l.entries[start:end])
	return out
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]domain.ChatMessage, 0, l.capacity)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Capacity() int {
	return l.capacity
}
