package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agora/internal/chat"
	"agora/internal/domain"
	"agora/internal/mood"
)

type createAgentRequest struct {
	Name        string   `json:"name"`
	Personality string   `json:"personality"`
	Location    string   `json:"location"`
	Goal        string   `json:"goal"`
	Mood        *float64 `json:"mood"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type chatUserRequest struct {
	Message  string `json:"message"`
	UserName string `json:"user_name"`
}

type chatSendRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type eventRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "agora",
		"llm_configured": s.llm != nil && s.llm.Configured(),
		"time":           time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(c, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	agentMood := domain.DefaultMood
	if req.Mood != nil {
		agentMood = mood.Clamp(*req.Mood)
	}
	agent, err := s.store.CreateAgent(c.Request.Context(), domain.Agent{
		Name:        strings.TrimSpace(req.Name),
		Personality: strings.TrimSpace(req.Personality),
		Location:    strings.TrimSpace(req.Location),
		Goal:        strings.TrimSpace(req.Goal),
		Mood:        agentMood,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("agent created", zap.String("agent_id", agent.ID), zap.String("name", agent.Name), zap.String("personality", agent.Personality))
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agent, ok := s.loadAgent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, agent)
}

// handleAgentMessage is a one-to-one conversation with an agent outside the
// chat room. It nudges the agent's mood and leaves a memory and an event.
func (s *Server) handleAgentMessage(c *gin.Context) {
	agent, ok := s.loadAgent(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		writeError(c, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	ctx := c.Request.Context()
	reply := s.llm.Reply(ctx, agent.ID, text, chat.DirectSystemPrompt(agent), s.temperature)
	if !chat.IsFailure(reply) && s.memory != nil {
		if err := s.memory.Record(ctx, agent.ID, "User: "+text+"\nMe: "+reply, mood.Label(agent.Mood)); err != nil {
			s.logger.Warn("record memory failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	current := agent.Mood
	if s.mood != nil {
		next, err := s.mood.React(ctx, agent.ID)
		if err != nil {
			s.logger.Warn("update mood failed", zap.String("agent_id", agent.ID), zap.Error(err))
		} else {
			current = next
		}
	}

	if _, err := s.store.CreateEvent(ctx, domain.Event{
		Content: fmt.Sprintf("User -> %s: %s", agent.Name, text),
		AgentID: agent.ID,
		Type:    domain.EventTypeMessage,
	}); err != nil {
		s.logger.Warn("store event failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id": agent.ID,
		"reply":    reply,
		"mood":     current,
		"emotion":  mood.Emoji(current),
	})
}

func (s *Server) handleAgentHistory(c *gin.Context) {
	agent, ok := s.loadAgent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": agent.ID,
		"history":  s.llm.History(agent.ID),
	})
}

func (s *Server) handleClearAgentHistory(c *gin.Context) {
	agent, ok := s.loadAgent(c)
	if !ok {
		return
	}
	s.llm.ClearHistory(agent.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAgentMemories(c *gin.Context) {
	agent, ok := s.loadAgent(c)
	if !ok {
		return
	}
	if s.memory == nil {
		c.JSON(http.StatusOK, gin.H{"agent_id": agent.ID, "memories": []domain.Memory{}})
		return
	}
	found, err := s.memory.Search(c.Request.Context(), agent.ID, c.Query("q"), queryInt(c, "limit", 3, 50))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agent.ID, "memories": found})
}

// handleGlobalEvent broadcasts an event to every agent: each one remembers it
// and has its mood nudged.
func (s *Server) handleGlobalEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(c, http.StatusBadRequest, errors.New("content is required"))
		return
	}

	ctx := c.Request.Context()
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	for _, agent := range agents {
		if s.memory != nil {
			if err := s.memory.Record(ctx, agent.ID, "Event: "+content, "neutral"); err != nil {
				s.logger.Warn("record event memory failed", zap.String("agent_id", agent.ID), zap.Error(err))
			}
		}
		if s.mood != nil {
			if _, err := s.mood.React(ctx, agent.ID); err != nil {
				s.logger.Warn("update mood failed", zap.String("agent_id", agent.ID), zap.Error(err))
			}
		}
	}

	event, err := s.store.CreateEvent(ctx, domain.Event{Content: content, Type: domain.EventTypeGlobal})
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("global event", zap.String("event_id", event.ID), zap.Int("affected", len(agents)))
	c.JSON(http.StatusOK, gin.H{"ok": true, "event": event, "affected": len(agents)})
}

func (s *Server) handleListEvents(c *gin.Context) {
	events, err := s.store.ListEvents(c.Request.Context(), queryInt(c, "limit", 50, 500))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleGraph(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	graph := domain.Graph{
		Nodes: make([]domain.GraphNode, 0, len(agents)+1),
		Edges: make([]domain.GraphEdge, 0),
	}
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		graph.Nodes = append(graph.Nodes, domain.GraphNode{ID: a.ID, Name: a.Name, Mood: a.Mood})
		known[a.ID] = true
	}
	humanAdded := false
	for _, e := range s.chat.ReplyEdges() {
		if !known[e.Source] {
			continue
		}
		if e.Target == domain.HumanSenderID && !humanAdded {
			graph.Nodes = append(graph.Nodes, domain.GraphNode{ID: domain.HumanSenderID, Name: chat.DefaultHumanName, Mood: domain.DefaultMood})
			humanAdded = true
		}
		if !known[e.Target] && e.Target != domain.HumanSenderID {
			continue
		}
		graph.Edges = append(graph.Edges, e)
	}
	c.JSON(http.StatusOK, graph)
}

func (s *Server) handleChatMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages": s.chat.Messages(queryInt(c, "limit", 50, chat.DefaultCapacity)),
		"total":    s.chat.Len(),
	})
}

func (s *Server) handleChatUser(c *gin.Context) {
	var req chatUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	msg, err := s.chat.SubmitHuman(req.Message, req.UserName)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
}

func (s *Server) handleChatSend(c *gin.Context) {
	var req chatSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	msg, err := s.chat.SubmitAgent(c.Request.Context(), strings.TrimSpace(req.AgentID), req.Message)
	switch {
	case errors.Is(err, chat.ErrAgentNotFound):
		writeError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(c, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
}

func (s *Server) handleChatClear(c *gin.Context) {
	s.chat.Clear()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleBackgroundStart(c *gin.Context) {
	status := "already running"
	if s.chat.StartBackground() {
		status = "started"
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "running": true})
}

func (s *Server) handleBackgroundStop(c *gin.Context) {
	status := "not running"
	if s.chat.StopBackground() {
		status = "stopped"
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "running": false})
}

func (s *Server) handleBackgroundStatus(c *gin.Context) {
	status, err := s.chat.Status(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) loadAgent(c *gin.Context) (domain.Agent, bool) {
	agent, err := s.store.GetAgent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(c, http.StatusNotFound, errors.New("agent not found"))
		return domain.Agent{}, false
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return domain.Agent{}, false
	}
	return agent, true
}
