package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"agora/internal/domain"
)

const DefaultSearchLimit = 3

type Store interface {
	AddMemory(ctx context.Context, memory domain.Memory) (domain.Memory, error)
	SearchMemories(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error)
}

// Index is a semantic search backend kept alongside the relational store.
type Index interface {
	Upsert(ctx context.Context, memory domain.Memory) error
	Search(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error)
}

type Service struct {
	store  Store
	index  Index
	logger *zap.Logger
}

// New returns a memory service backed by store. index may be nil, in which
// case search falls back to substring matching.
func New(store Store, index Index, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, index: index, logger: logger}
}

func (s *Service) Record(ctx context.Context, agentID, text, emotion string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if emotion == "" {
		emotion = "neutral"
	}
	stored, err := s.store.AddMemory(ctx, domain.Memory{AgentID: agentID, Content: text, Emotion: emotion})
	if err != nil {
		return fmt.Errorf("record memory: %w", err)
	}
	if s.index != nil {
		if err := s.index.Upsert(ctx, stored); err != nil {
			s.logger.Warn("index memory failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Search(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if s.index != nil && strings.TrimSpace(query) != "" {
		found, err := s.index.Search(ctx, agentID, query, limit)
		if err == nil {
			return found, nil
		}
		s.logger.Warn("semantic memory search failed, using substring match", zap.String("agent_id", agentID), zap.Error(err))
	}
	found, err := s.store.SearchMemories(ctx, agentID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return found, nil
}
