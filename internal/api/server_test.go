package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"agora/internal/chat"
	"agora/internal/domain"
	"agora/internal/memory"
	"agora/internal/messaging/inproc"
	"agora/internal/metrics"
	"agora/internal/mood"
	"agora/internal/store/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	history map[string][]domain.Utterance
}

func (f *fakeLLM) Configured() bool { return true }

func (f *fakeLLM) Generate(_ context.Context, agentID, prompt, _ string, _ float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.history == nil {
		f.history = make(map[string][]domain.Utterance)
	}
	f.history[agentID] = append(f.history[agentID],
		domain.Utterance{Role: domain.RoleUser, Content: prompt},
		domain.Utterance{Role: domain.RoleAssistant, Content: f.reply},
	)
	return f.reply, nil
}

func (f *fakeLLM) Reply(ctx context.Context, agentID, prompt, system string, temperature float32) string {
	text, _ := f.Generate(ctx, agentID, prompt, system, temperature)
	return text
}

func (f *fakeLLM) History(agentID string) []domain.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Utterance(nil), f.history[agentID]...)
}

func (f *fakeLLM) ClearHistory(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, agentID)
}

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *sqlite.Store
	room    *chat.Room
	llm     *fakeLLM
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	llm := &fakeLLM{reply: "hi there"}
	bus := inproc.New(16)
	mem := memory.New(store, nil, logger)

	var room *chat.Room
	m := metrics.New(func() int { return room.Len() })
	room = chat.New(store, llm, mem, chat.Config{
		// Agents never volunteer replies, which keeps the log deterministic.
		Heuristic:   chat.Heuristic{DelayMin: time.Millisecond, DelayMax: time.Millisecond},
		IntervalMin: time.Hour,
		Random:      chat.NewRandom(1),
		Metrics:     m,
		Publishers:  []chat.Publisher{bus},
	}, logger)
	t.Cleanup(room.Close)

	srv := New(Deps{
		Store:   store,
		Chat:    room,
		LLM:     llm,
		Memory:  mem,
		Mood:    mood.New(store, chat.NewRandom(2)),
		Stream:  bus,
		Metrics: m,
		Logger:  logger,
	})
	t.Cleanup(srv.Shutdown)

	return &testEnv{server: srv, handler: srv.Handler(), store: store, room: room, llm: llm, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) createAgent(t *testing.T, name, personality string) domain.Agent {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/agents", map[string]any{"name": name, "personality": personality})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Agent](t, rec)
}

func TestCreateAndListAgents(t *testing.T) {
	env := newTestEnv(t)

	alice := env.createAgent(t, "Alice", "friendly")
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, domain.DefaultMood, alice.Mood)
	assert.Equal(t, domain.DefaultLocation, alice.Location)

	rec := env.do(t, http.MethodGet, "/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]domain.Agent](t, rec)
	require.Len(t, agents, 1)
	assert.Equal(t, "Alice", agents[0].Name)

	rec = env.do(t, http.MethodGet, "/agents/"+alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.ID, decode[domain.Agent](t, rec).ID)
}

func TestCreateAgentValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/agents", map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestGetUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent not found")
}

func TestDirectMessageUpdatesMoodMemoryAndEvents(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAgent(t, "Alice", "curious")

	rec := env.do(t, http.MethodPost, "/agents/"+alice.ID+"/message", map[string]string{"message": "how are you?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "hi there", body["reply"])
	assert.Equal(t, alice.ID, body["agent_id"])
	current := body["mood"].(float64)
	assert.GreaterOrEqual(t, current, alice.Mood+mood.MinDelta-1e-9)
	assert.LessOrEqual(t, current, alice.Mood+mood.MaxDelta+1e-9)
	assert.Equal(t, mood.Emoji(current), body["emotion"])

	rec = env.do(t, http.MethodGet, "/agents/"+alice.ID+"/memories?q=how+are", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mems := decode[struct {
		Memories []domain.Memory `json:"memories"`
	}](t, rec)
	require.Len(t, mems.Memories, 1)
	assert.Contains(t, mems.Memories[0].Content, "hi there")

	rec = env.do(t, http.MethodGet, "/events", nil)
	events := decode[[]domain.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeMessage, events[0].Type)
	assert.Equal(t, alice.ID, events[0].AgentID)

	rec = env.do(t, http.MethodGet, "/agents/"+alice.ID+"/history", nil)
	history := decode[struct {
		History []domain.Utterance `json:"history"`
	}](t, rec)
	assert.Len(t, history.History, 2)

	rec = env.do(t, http.MethodPost, "/agents/"+alice.ID+"/history/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.llm.History(alice.ID))
}

func TestDirectMessageRequiresText(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAgent(t, "Alice", "friendly")
	rec := env.do(t, http.MethodPost, "/agents/"+alice.ID+"/message", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGlobalEventReachesEveryAgent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAgent(t, "Alice", "friendly")
	bob := env.createAgent(t, "Bob", "calm")

	rec := env.do(t, http.MethodPost, "/events", map[string]string{"content": "it starts to rain"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["affected"])

	for _, id := range []string{alice.ID, bob.ID} {
		found, err := env.store.SearchMemories(context.Background(), id, "rain", 3)
		require.NoError(t, err)
		assert.Len(t, found, 1)
	}

	rec = env.do(t, http.MethodGet, "/events?limit=10", nil)
	events := decode[[]domain.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeGlobal, events[0].Type)

	rec = env.do(t, http.MethodPost, "/events", map[string]string{"content": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpoints(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAgent(t, "Alice", "friendly")

	rec := env.do(t, http.MethodPost, "/chat/user", map[string]string{"message": "hello everyone", "user_name": "Sam"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/chat/send", map[string]string{"agent_id": alice.ID, "message": "hi Sam"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/chat/messages?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Messages []domain.ChatMessage `json:"messages"`
		Total    int                  `json:"total"`
	}](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "hi Sam", page.Messages[0].Body)
	assert.Equal(t, domain.MessageKindAgent, page.Messages[0].Kind)

	rec = env.do(t, http.MethodGet, "/chat/background/status", nil)
	status := decode[domain.ChatStatus](t, rec)
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.MessageCount)
	assert.Equal(t, 1, status.AgentCount)

	rec = env.do(t, http.MethodPost, "/chat/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.room.Len())
}

func TestChatSendUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chat/send", map[string]string{"agent_id": "ghost", "message": "boo"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, env.room.Len())
}

func TestChatUserRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chat/user", map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackgroundStartStop(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat/background/start", nil)
	assert.Equal(t, "started", decode[map[string]any](t, rec)["status"])
	rec = env.do(t, http.MethodPost, "/chat/background/start", nil)
	assert.Equal(t, "already running", decode[map[string]any](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/chat/background/status", nil)
	assert.True(t, decode[domain.ChatStatus](t, rec).Running)

	rec = env.do(t, http.MethodPost, "/chat/background/stop", nil)
	assert.Equal(t, "stopped", decode[map[string]any](t, rec)["status"])
	rec = env.do(t, http.MethodPost, "/chat/background/stop", nil)
	assert.Equal(t, "not running", decode[map[string]any](t, rec)["status"])
}

func TestGraphIncludesAgents(t *testing.T) {
	env := newTestEnv(t)
	env.createAgent(t, "Alice", "friendly")
	env.createAgent(t, "Bob", "calm")

	rec := env.do(t, http.MethodGet, "/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	graph := decode[domain.Graph](t, rec)
	assert.Len(t, graph.Nodes, 2)
	assert.NotNil(t, graph.Edges)
}

func TestQueryIntBounds(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: "", want: 50},
		{raw: "abc", want: 50},
		{raw: "-3", want: 50},
		{raw: "7", want: 7},
		{raw: "9999", want: 200},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?limit="+tt.raw, nil)
		assert.Equal(t, tt.want, queryInt(c, "limit", 50, 200), "raw=%q", tt.raw)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agora_http_requests_total")
	assert.Contains(t, rec.Body.String(), "agora_chat_log_length")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/chat/user", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatStreamDeliversMessages(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = env.room.SubmitHuman("anyone around?", "Sam")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.ChatMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "anyone around?", got.Body)
	assert.Equal(t, domain.HumanSenderID, got.SenderID)
	assert.Equal(t, "Sam", got.SenderName)

	env.server.Shutdown()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestNewKeepsZeroTemperature(t *testing.T) {
	assert.Equal(t, float32(0), New(Deps{}).temperature)
	assert.Equal(t, float32(1.1), New(Deps{Temperature: 1.1}).temperature)
	assert.Equal(t, chat.DefaultTemperature, New(Deps{Temperature: -0.5}).temperature)
}
