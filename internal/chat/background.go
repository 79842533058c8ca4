package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"agora/internal/domain"
)

type background struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartBackground launches the background conversation loop. It returns
// false when the loop is already running.
func (r *Room) StartBackground() bool {
	r.bg.mu.Lock()
	defer r.bg.mu.Unlock()

	if r.bg.running {
		return false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	r.bg.running = true
	r.bg.cancel = cancel
	r.bg.done = done
	r.cfg.Metrics.BackgroundRunning(true)

	go func() {
		defer close(done)
		defer r.backgroundExited(done)
		r.backgroundLoop(ctx)
	}()
	r.logger.Info("background conversation started")
	return true
}

// StopBackground cancels the loop and waits for it to exit. It returns false
// when the loop was not running.
func (r *Room) StopBackground() bool {
	r.bg.mu.Lock()
	if !r.bg.running {
		r.bg.mu.Unlock()
		return false
	}
	cancel, done := r.bg.cancel, r.bg.done
	r.bg.running = false
	r.bg.cancel = nil
	r.bg.done = nil
	r.cfg.Metrics.BackgroundRunning(false)
	r.bg.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("background conversation stopped")
	return true
}

func (r *Room) BackgroundRunning() bool {
	r.bg.mu.Lock()
	defer r.bg.mu.Unlock()
	return r.bg.running
}

// backgroundExited resets the state when the loop ends on its own, for
// example on panic or room shutdown.
func (r *Room) backgroundExited(done chan struct{}) {
	r.bg.mu.Lock()
	defer r.bg.mu.Unlock()
	if r.bg.done != done {
		return
	}
	if r.bg.cancel != nil {
		r.bg.cancel()
	}
	r.bg.running = false
	r.bg.cancel = nil
	r.bg.done = nil
	r.cfg.Metrics.BackgroundRunning(false)
}

func (r *Room) backgroundLoop(ctx context.Context) {
	for {
		if !sleepContext(ctx, uniformDuration(r.cfg.Random, r.cfg.IntervalMin, r.cfg.IntervalMax)) {
			return
		}
		if err := r.speakSpontaneously(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("background conversation step failed", zap.Error(err))
			if !sleepContext(ctx, r.cfg.ErrorBackoff) {
				return
			}
		}
	}
}

func (r *Room) speakSpontaneously(ctx context.Context) error {
	agents, err := r.registry.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) < 2 {
		return nil
	}
	speaker := agents[r.cfg.Random.IntN(len(agents))]

	prompt := SpontaneousPrompt(r.log.Recent(SpontaneousContextSize))
	text, err := r.completer.Generate(ctx, speaker.ID, prompt, SystemPrompt(speaker), r.cfg.Temperature)
	if err != nil {
		return fmt.Errorf("generate spontaneous message for %s: %w", speaker.ID, err)
	}
	if IsFailure(text) {
		r.cfg.Metrics.ReplyDropped("generation_failed")
		return fmt.Errorf("generate spontaneous message for %s: %w: %s", speaker.ID, errNoReply, trimText(text, 80))
	}

	msg := newAgentMessage(speaker, text, domain.MessageKindAgentSelfInitiated, "")
	r.append(msg)
	r.remember(speaker, text)
	r.logger.Info("agent spoke spontaneously",
		zap.String("agent_id", speaker.ID),
		zap.String("agent", speaker.Name),
		zap.String("text", trimText(text, 60)),
	)
	r.dispatch(msg)
	return nil
}
