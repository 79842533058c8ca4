package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
)

func msg(id string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, SenderID: "s", SenderName: "S", Body: "body " + id}
}

func TestLogEvictsOldestAtCapacity(t *testing.T) {
	log := NewLog(DefaultCapacity)
	for i := 0; i < DefaultCapacity; i++ {
		log.Append(msg(fmt.Sprintf("m%03d", i)))
	}
	require.Equal(t, 200, log.Len())

	log.Append(msg("overflow"))

	entries := log.Recent(0)
	require.Len(t, entries, 200)
	assert.Equal(t, "m001", entries[0].ID, "oldest entry is evicted")
	assert.Equal(t, "overflow", entries[len(entries)-1].ID)
	for i := 1; i < len(entries)-1; i++ {
		assert.Equal(t, fmt.Sprintf("m%03d", i+1), entries[i].ID)
	}
}

func TestLogNeverExceedsCapacity(t *testing.T) {
	log := NewLog(5)
	for i := 0; i < 23; i++ {
		log.Append(msg(fmt.Sprintf("m%d", i)))
		assert.LessOrEqual(t, log.Len(), 5)
	}
	ids := make([]string, 0, 5)
	for _, m := range log.Recent(0) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m18", "m19", "m20", "m21", "m22"}, ids)
}

func TestLogRecentNewestLast(t *testing.T) {
	log := NewLog(10)
	for _, id := range []string{"a", "b", "c", "d"} {
		log.Append(msg(id))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "limit smaller than length", limit: 2, want: []string{"c", "d"}},
		{name: "limit larger than length", limit: 50, want: []string{"a", "b", "c", "d"}},
		{name: "zero returns all", limit: 0, want: []string{"a", "b", "c", "d"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, m := range log.Recent(tc.limit) {
				got = append(got, m.ID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLogRecentReturnsCopy(t *testing.T) {
	log := NewLog(3)
	log.Append(msg("a"))
	got := log.Recent(0)
	got[0].Body = "changed"
	assert.Equal(t, "body a", log.Recent(0)[0].Body)
}

func TestLogBefore(t *testing.T) {
	log := NewLog(10)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		log.Append(msg(id))
	}
	ids := func(entries []domain.ChatMessage) []string {
		out := make([]string, 0, len(entries))
		for _, m := range entries {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Equal(t, []string{"b", "c", "d"}, ids(log.Before("e", 3)))
	assert.Equal(t, []string{"a"}, ids(log.Before("b", 3)))
	assert.Empty(t, log.Before("a", 3))
	assert.Equal(t, []string{"c", "d", "e"}, ids(log.Before("gone", 3)))
	assert.Nil(t, log.Before("e", 0))
}

func TestLogClear(t *testing.T) {
	log := NewLog(10)
	log.Append(msg("a"))
	log.Append(msg("b"))
	log.Clear()
	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.Recent(10))

	log.Append(msg("c"))
	assert.Equal(t, 1, log.Len())
}

func TestLogConcurrentAppends(t *testing.T) {
	log := NewLog(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				log.Append(msg(fmt.Sprintf("w%d-%d", w, i)))
				_ = log.Recent(5)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, log.Len())
}
