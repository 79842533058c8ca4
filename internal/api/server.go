package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"agora/internal/chat"
	"agora/internal/domain"
)

type Store interface {
	CreateAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error)
	GetAgent(ctx context.Context, agentID string) (domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	CreateEvent(ctx context.Context, event domain.Event) (domain.Event, error)
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

type ChatRoom interface {
	SubmitHuman(body, userName string) (domain.ChatMessage, error)
	SubmitAgent(ctx context.Context, agentID, body string) (domain.ChatMessage, error)
	Messages(limit int) []domain.ChatMessage
	Len() int
	Clear()
	StartBackground() bool
	StopBackground() bool
	Status(ctx context.Context) (domain.ChatStatus, error)
	ReplyEdges() []domain.GraphEdge
}

type Completions interface {
	Configured() bool
	Reply(ctx context.Context, agentID, prompt, system string, temperature float32) string
	History(agentID string) []domain.Utterance
	ClearHistory(agentID string)
}

type Memories interface {
	Record(ctx context.Context, agentID, text, emotion string) error
	Search(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error)
}

type Moods interface {
	React(ctx context.Context, agentID string) (float64, error)
}

type Stream interface {
	Subscribe(id string) <-chan domain.ChatMessage
	Unsubscribe(id string)
}

type Metrics interface {
	ObserveRequest(method, route, status string, seconds float64)
	Handler() http.Handler
}

type Deps struct {
	Store       Store
	Chat        ChatRoom
	LLM         Completions
	Memory      Memories
	Mood        Moods
	Stream      Stream
	Metrics     Metrics
	Logger      *zap.Logger
	Temperature float32
	CORSOrigin  string
}

type Server struct {
	store       Store
	chat        ChatRoom
	llm         Completions
	memory      Memories
	mood        Moods
	stream      Stream
	metrics     Metrics
	logger      *zap.Logger
	temperature float32
	corsOrigin  string

	upgrader websocket.Upgrader
	done     chan struct{}
	doneOnce sync.Once
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Temperature < 0 {
		deps.Temperature = chat.DefaultTemperature
	}
	return &Server{
		store:       deps.Store,
		chat:        deps.Chat,
		llm:         deps.LLM,
		memory:      deps.Memory,
		mood:        deps.Mood,
		stream:      deps.Stream,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		temperature: deps.Temperature,
		corsOrigin:  deps.CORSOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		done: make(chan struct{}),
	}
}

// Handler builds the router wrapped in the CORS layer.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/", s.handleRoot)
	router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	agents := router.Group("/agents")
	{
		agents.POST("", s.handleCreateAgent)
		agents.GET("", s.handleListAgents)
		agents.GET("/:id", s.handleGetAgent)
		agents.POST("/:id/message", s.handleAgentMessage)
		agents.GET("/:id/history", s.handleAgentHistory)
		agents.POST("/:id/history/clear", s.handleClearAgentHistory)
		agents.GET("/:id/memories", s.handleAgentMemories)
	}

	router.POST("/events", s.handleGlobalEvent)
	router.GET("/events", s.handleListEvents)
	router.GET("/graph", s.handleGraph)

	chatGroup := router.Group("/chat")
	{
		chatGroup.GET("/messages", s.handleChatMessages)
		chatGroup.POST("/user", s.handleChatUser)
		chatGroup.POST("/send", s.handleChatSend)
		chatGroup.POST("/clear", s.handleChatClear)
		chatGroup.POST("/background/start", s.handleBackgroundStart)
		chatGroup.POST("/background/stop", s.handleBackgroundStop)
		chatGroup.GET("/background/status", s.handleBackgroundStatus)
		if s.stream != nil {
			chatGroup.GET("/ws", s.handleChatStream)
		}
	}

	origins := []string{"*"}
	if o := strings.TrimSpace(s.corsOrigin); o != "" {
		origins = strings.Split(o, ",")
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(router)
}

// Shutdown ends open chat streams. Hijacked websocket connections are not
// closed by http.Server.Shutdown.
func (s *Server) Shutdown() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("took", took),
		)
		if s.metrics != nil {
			s.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), took.Seconds())
		}
	}
}

func writeError(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def, max int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
