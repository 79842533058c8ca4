package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"agora/internal/domain"
)

type fakeRegistry struct {
	mu     sync.Mutex
	agents []domain.Agent
}

func newFakeRegistry(agents ...domain.Agent) *fakeRegistry {
	return &fakeRegistry{agents: agents}
}

func (f *fakeRegistry) ListAgents(context.Context) ([]domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Agent, len(f.agents))
	copy(out, f.agents)
	return out, nil
}

func (f *fakeRegistry) GetAgent(_ context.Context, id string) (domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}

type completion struct {
	AgentID string
	Prompt  string
	System  string
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []completion
	reply func(ctx context.Context, agentID string) (string, error)
}

func (f *fakeCompleter) Generate(ctx context.Context, agentID, prompt, system string, _ float32) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, completion{AgentID: agentID, Prompt: prompt, System: system})
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "reply from " + agentID, nil
	}
	return reply(ctx, agentID)
}

func (f *fakeCompleter) Calls() []completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]completion, len(f.calls))
	copy(out, f.calls)
	return out
}

type recordingMemory struct {
	mu      sync.Mutex
	records []string
}

func (m *recordingMemory) Record(_ context.Context, agentID, text, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, agentID+":"+text)
	return nil
}

func (m *recordingMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// sequenceRandom replays fixed draws, then returns zero forever.
type sequenceRandom struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

func (s *sequenceRandom) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *sequenceRandom) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0] % n
	s.ints = s.ints[1:]
	return v
}

func fastHeuristic() Heuristic {
	h := DefaultHeuristic()
	h.DelayMin = time.Millisecond
	h.DelayMax = time.Millisecond
	return h
}

func newTestRoom(t *testing.T, registry Registry, completer Completer, memory MemoryRecorder, cfg Config) *Room {
	t.Helper()
	if cfg.Heuristic == (Heuristic{}) {
		cfg.Heuristic = fastHeuristic()
	}
	room := New(registry, completer, memory, cfg, zaptest.NewLogger(t))
	t.Cleanup(room.Close)
	return room
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
