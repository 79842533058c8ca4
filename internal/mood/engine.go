package mood

import (
	"context"
	"fmt"

	"agora/internal/domain"
)

const (
	MinDelta = -0.1
	MaxDelta = 0.2
)

type Store interface {
	GetAgent(ctx context.Context, agentID string) (domain.Agent, error)
	UpdateAgentMood(ctx context.Context, agentID string, mood float64) error
}

type Random interface {
	Float64() float64
}

type Engine struct {
	store Store
	rnd   Random
}

func New(store Store, rnd Random) *Engine {
	return &Engine{store: store, rnd: rnd}
}

// Nudge shifts an agent's mood by delta, clamped to [0, 1], and returns the
// stored value.
func (e *Engine) Nudge(ctx context.Context, agentID string, delta float64) (float64, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	next := Clamp(agent.Mood + delta)
	if err := e.store.UpdateAgentMood(ctx, agentID, next); err != nil {
		return 0, fmt.Errorf("store mood: %w", err)
	}
	return next, nil
}

// React applies a random nudge drawn from [MinDelta, MaxDelta).
func (e *Engine) React(ctx context.Context, agentID string) (float64, error) {
	return e.Nudge(ctx, agentID, RandomDelta(e.rnd))
}

func RandomDelta(rnd Random) float64 {
	return MinDelta + rnd.Float64()*(MaxDelta-MinDelta)
}

func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func Emoji(mood float64) string {
	switch {
	case mood > 0.7:
		return "😊"
	case mood > 0.3:
		return "😐"
	default:
		return "😢"
	}
}

func Label(mood float64) string {
	switch {
	case mood > 0.7:
		return "happy"
	case mood > 0.3:
		return "neutral"
	default:
		return "sad"
	}
}
