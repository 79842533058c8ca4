package chat

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"agora/internal/domain"
)

// Random is the source of every draw the chat room makes. Tests inject a
// fixed sequence.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type lockedRandom struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandom(seed uint64) Random {
	return &lockedRandom{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *lockedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

var (
	extrovertedPersonalities = map[string]struct{}{"friendly": {}, "energetic": {}, "curious": {}}
	introvertedPersonalities = map[string]struct{}{"thoughtful": {}, "calm": {}}
)

type Heuristic struct {
	BaseProbability  float64
	QuestionBonus    float64
	ExtrovertBonus   float64
	IntrovertPenalty float64
	DelayMin         time.Duration
	DelayMax         time.Duration
	// EnsureReply picks one random candidate when no draw succeeded.
	EnsureReply bool
}

func DefaultHeuristic() Heuristic {
	return Heuristic{
		BaseProbability:  0.4,
		QuestionBonus:    0.3,
		ExtrovertBonus:   0.2,
		IntrovertPenalty: 0.1,
		DelayMin:         time.Second,
		DelayMax:         3 * time.Second,
	}
}

// Probability is the chance that an agent with the given personality replies
// to body. The result is clamped to [0, 1].
func (h Heuristic) Probability(personality, body string) float64 {
	p := h.BaseProbability
	if strings.Contains(body, "?") {
		p += h.QuestionBonus
	}
	tag := strings.ToLower(strings.TrimSpace(personality))
	if _, ok := extrovertedPersonalities[tag]; ok {
		p += h.ExtrovertBonus
	}
	if _, ok := introvertedPersonalities[tag]; ok {
		p -= h.IntrovertPenalty
	}
	return clamp01(p)
}

// Responders draws once per candidate, in candidate order, and returns the
// agents that will reply. The trigger's sender is never a candidate.
func (h Heuristic) Responders(trigger domain.ChatMessage, agents []domain.Agent, rnd Random) []domain.Agent {
	candidates := make([]domain.Agent, 0, len(agents))
	for _, a := range agents {
		if a.ID == trigger.SenderID {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}

	var out []domain.Agent
	for _, a := range candidates {
		if rnd.Float64() < h.Probability(a.Personality, trigger.Body) {
			out = append(out, a)
		}
	}
	if len(out) == 0 && h.EnsureReply {
		out = append(out, candidates[rnd.IntN(len(candidates))])
	}
	return out
}

// Delay returns a uniform pause in [DelayMin, DelayMax].
func (h Heuristic) Delay(rnd Random) time.Duration {
	return uniformDuration(rnd, h.DelayMin, h.DelayMax)
}

func uniformDuration(rnd Random, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rnd.Float64()*float64(hi-lo))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
