package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agora/internal/domain"
	"agora/internal/mood"
)

var (
	ErrAgentNotFound = fmt.Errorf("agent %w", domain.ErrNotFound)
	ErrEmptyMessage  = errors.New("message is empty")
	errNoReply       = errors.New("completion returned a failure marker")
)

const (
	DefaultHumanName = "User"
	// DefaultTemperature applies when Config.Temperature is negative; zero
	// is a valid setting.
	DefaultTemperature float32 = 0.7
)

type Registry interface {
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	GetAgent(ctx context.Context, agentID string) (domain.Agent, error)
}

type Completer interface {
	Generate(ctx context.Context, agentID, prompt, system string, temperature float32) (string, error)
}

type MemoryRecorder interface {
	Record(ctx context.Context, agentID, text, emotion string) error
}

// Publisher receives every message appended to the log.
type Publisher interface {
	Publish(msg domain.ChatMessage) error
}

type Metrics interface {
	MessageAppended(kind domain.MessageKind)
	ReplyDropped(reason string)
	BackgroundRunning(running bool)
}

type Config struct {
	Capacity      int
	Heuristic     Heuristic
	Temperature   float32
	IntervalMin   time.Duration
	IntervalMax   time.Duration
	ErrorBackoff  time.Duration
	RecordTimeout time.Duration

	Random     Random
	Metrics    Metrics
	Publishers []Publisher
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Heuristic == (Heuristic{}) {
		c.Heuristic = DefaultHeuristic()
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = 10 * time.Second
	}
	if c.IntervalMax < c.IntervalMin {
		c.IntervalMax = c.IntervalMin + 20*time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 10 * time.Second
	}
	if c.Random == nil {
		c.Random = NewRandom(uint64(time.Now().UnixNano()))
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Room owns the chat log, the reply fan-out and the background conversation
// loop. Replies run on the room's lifetime context and outlive a stopped
// background loop; Close cancels them.
type Room struct {
	registry  Registry
	completer Completer
	memory    MemoryRecorder
	cfg       Config
	logger    *zap.Logger
	log       *Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	bg background
}

func New(registry Registry, completer Completer, memory MemoryRecorder, cfg Config, logger *zap.Logger) *Room {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		registry:  registry,
		completer: completer,
		memory:    memory,
		cfg:       cfg,
		logger:    logger,
		log:       NewLog(cfg.Capacity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SubmitHuman appends a message from the human user and schedules replies.
func (r *Room) SubmitHuman(body, userName string) (domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	name := strings.TrimSpace(userName)
	if name == "" {
		name = DefaultHumanName
	}
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   domain.HumanSenderID,
		SenderName: name,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
		Kind:       domain.MessageKindHuman,
	}
	r.append(msg)
	r.dispatch(msg)
	r.logger.Info("human message submitted", zap.String("message_id", msg.ID), zap.String("user", name))
	return msg, nil
}

// SubmitAgent appends a message on behalf of a registered agent. Unknown ids
// fail with ErrAgentNotFound before anything is appended.
func (r *Room) SubmitAgent(ctx context.Context, agentID, body string) (domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	agent, err := r.registry.GetAgent(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ChatMessage{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("load sender: %w", err)
	}
	msg := newAgentMessage(agent, body, domain.MessageKindAgent, "")
	r.append(msg)
	r.dispatch(msg)
	r.logger.Info("agent message submitted", zap.String("message_id", msg.ID), zap.String("agent_id", agent.ID))
	return msg, nil
}

// Messages returns up to limit recent messages, newest last.
func (r *Room) Messages(limit int) []domain.ChatMessage {
	return r.log.Recent(limit)
}

func (r *Room) Len() int {
	return r.log.Len()
}

func (r *Room) Clear() {
	r.log.Clear()
	r.logger.Info("chat log cleared")
}

func (r *Room) Status(ctx context.Context) (domain.ChatStatus, error) {
	agents, err := r.registry.ListAgents(ctx)
	if err != nil {
		return domain.ChatStatus{}, fmt.Errorf("list agents: %w", err)
	}
	return domain.ChatStatus{
		Running:      r.BackgroundRunning(),
		MessageCount: r.log.Len(),
		AgentCount:   len(agents),
	}, nil
}

// ReplyEdges counts, per (replier, replied-to sender) pair, the replies still
// present in the log.
func (r *Room) ReplyEdges() []domain.GraphEdge {
	entries := r.log.Recent(0)
	senders := make(map[string]string, len(entries))
	for _, msg := range entries {
		senders[msg.ID] = msg.SenderID
	}
	type pair struct{ from, to string }
	counts := make(map[pair]int)
	var order []pair
	for _, msg := range entries {
		if msg.InReplyTo == "" {
			continue
		}
		target, ok := senders[msg.InReplyTo]
		if !ok || target == msg.SenderID {
			continue
		}
		key := pair{from: msg.SenderID, to: target}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	edges := make([]domain.GraphEdge, 0, len(order))
	for _, key := range order {
		edges = append(edges, domain.GraphEdge{Source: key.from, Target: key.to, Weight: counts[key]})
	}
	return edges
}

// Wait blocks until every scheduled reply has finished.
func (r *Room) Wait() {
	r.wg.Wait()
}

// Close stops the background loop, cancels in-flight replies and waits for
// them to return.
func (r *Room) Close() {
	r.StopBackground()
	r.cancel()
	r.wg.Wait()
}

func (r *Room) append(msg domain.ChatMessage) {
	r.log.Append(msg)
	r.cfg.Metrics.MessageAppended(msg.Kind)
	for _, p := range r.cfg.Publishers {
		if err := p.Publish(msg); err != nil {
			r.logger.Debug("publish chat message failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (r *Room) dispatch(trigger domain.ChatMessage) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fanOut(r.ctx, trigger)
	}()
}

func (r *Room) fanOut(ctx context.Context, trigger domain.ChatMessage) {
	agents, err := r.registry.ListAgents(ctx)
	if err != nil {
		r.logger.Warn("list agents for fan-out failed", zap.String("message_id", trigger.ID), zap.Error(err))
		return
	}
	responders := r.cfg.Heuristic.Responders(trigger, agents, r.cfg.Random)
	r.logger.Debug("reply fan-out",
		zap.String("message_id", trigger.ID),
		zap.Int("candidates", len(agents)),
		zap.Int("responders", len(responders)),
	)
	for _, agent := range responders {
		delay := r.cfg.Heuristic.Delay(r.cfg.Random)
		r.wg.Add(1)
		go func(agent domain.Agent) {
			defer r.wg.Done()
			r.reply(ctx, agent, trigger, delay)
		}(agent)
	}
}

func (r *Room) reply(ctx context.Context, agent domain.Agent, trigger domain.ChatMessage, delay time.Duration) {
	if !sleepContext(ctx, delay) {
		return
	}
	current, err := r.registry.GetAgent(ctx, agent.ID)
	if err != nil {
		r.cfg.Metrics.ReplyDropped("agent_gone")
		r.logger.Debug("responder no longer available", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}

	prompt := ReplyPrompt(trigger, r.log.Before(trigger.ID, ReplyContextSize))
	text, err := r.completer.Generate(ctx, current.ID, prompt, SystemPrompt(current), r.cfg.Temperature)
	if err != nil || IsFailure(text) {
		r.cfg.Metrics.ReplyDropped("generation_failed")
		r.logger.Debug("reply dropped",
			zap.String("agent_id", current.ID),
			zap.String("trigger_id", trigger.ID),
			zap.String("text", trimText(text, 120)),
			zap.Error(err),
		)
		return
	}

	msg := newAgentMessage(current, text, domain.MessageKindAgent, trigger.ID)
	r.append(msg)
	r.remember(current, text)
	r.logger.Info("agent replied",
		zap.String("agent_id", current.ID),
		zap.String("agent", current.Name),
		zap.String("in_reply_to", trigger.ID),
		zap.String("text", trimText(text, 60)),
	)
}

// remember hands the text to the memory collaborator without waiting for it.
func (r *Room) remember(agent domain.Agent, text string) {
	if r.memory == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RecordTimeout)
		defer cancel()
		if err := r.memory.Record(ctx, agent.ID, text, mood.Label(agent.Mood)); err != nil {
			r.logger.Debug("record memory failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()
}

// IsFailure reports whether a completion is a failure marker rather than a
// reply.
func IsFailure(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || strings.HasPrefix(trimmed, domain.FailurePrefix)
}

func newAgentMessage(agent domain.Agent, body string, kind domain.MessageKind, inReplyTo string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   agent.ID,
		SenderName: agent.Name,
		Body:       strings.TrimSpace(body),
		CreatedAt:  time.Now().UTC(),
		Kind:       kind,
		InReplyTo:  inReplyTo,
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func trimText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 || len([]rune(value)) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit]) + "..."
}

type nopMetrics struct{}

func (nopMetrics) MessageAppended(domain.MessageKind) {}
func (nopMetrics) ReplyDropped(string)                {}
func (nopMetrics) BackgroundRunning(bool)             {}
