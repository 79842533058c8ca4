package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"agora/internal/domain"
)

const (
	DefaultBaseURL      = "https://api.mistral.ai/v1"
	DefaultModel        = "mistral-small-latest"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 150
	DefaultHistorySize  = 10
	defaultTimeout      = 30 * time.Second
	defaultRetries      = 2
	defaultRetryBackoff = time.Second
)

var (
	ErrNotConfigured = errors.New("completion client is not configured")
	ErrEmptyReply    = errors.New("completion returned no text")
	ErrFailureReply  = errors.New("completion returned a failure marker")
)

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	HistorySize       int
	Timeout           time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	// Zero selects the default; a negative value disables retries.
	Retries           int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client generates agent utterances through an OpenAI-compatible chat
// completions endpoint and keeps a bounded conversation history per agent.
type Client struct {
	api          *openai.Client
	model        string
	maxTokens    int
	historySize  int
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	limiter      *rate.Limiter
	logger       *zap.Logger

	mu      sync.Mutex
	history map[string][]domain.Utterance
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = defaultRetries
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		model:        model,
		maxTokens:    maxTokens,
		historySize:  historySize,
		timeout:      timeout,
		retries:      retries,
		retryBackoff: retryBackoff,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       cfg.Logger,
		history:      make(map[string][]domain.Utterance),
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		c.logger.Warn("completion api key is empty, agents will not talk")
		return c
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = DefaultBaseURL
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	c.api = openai.NewClientWithConfig(clientCfg)
	c.logger.Info("completion client ready", zap.String("model", model), zap.String("base_url", clientCfg.BaseURL))
	return c
}

func (c *Client) Configured() bool {
	return c.api != nil
}

// Generate asks the model for the agent's next utterance. The agent's
// history is sent along and extended only when generation succeeds.
func (c *Client) Generate(ctx context.Context, agentID, prompt, system string, temperature float32) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}

	messages := make([]openai.ChatCompletionMessage, 0, c.historySize+2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, u := range c.History(agentID) {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(u.Role), Content: u.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: temperature,
	}

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		text, err := c.generateOnce(ctx, req)
		if err == nil {
			c.remember(agentID, prompt, text)
			c.logger.Debug("completion ok",
				zap.String("agent_id", agentID),
				zap.Int("attempt", attempt),
				zap.Duration("took", time.Since(started)),
			)
			return text, nil
		}
		lastErr = err
		if !isRetryableAPIError(err) || attempt == c.retries+1 {
			break
		}
		wait := time.Duration(attempt) * c.retryBackoff
		c.logger.Info("completion retry", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("generate for agent %s: %w", agentID, lastErr)
}

// Reply is Generate for callers that show the result to a person: failures
// come back as text starting with domain.FailurePrefix.
func (c *Client) Reply(ctx context.Context, agentID, prompt, system string, temperature float32) string {
	text, err := c.Generate(ctx, agentID, prompt, system, temperature)
	if errors.Is(err, ErrNotConfigured) {
		return domain.FailurePrefix + ": " + ErrNotConfigured.Error() + ")"
	}
	if err != nil {
		c.logger.Warn("completion failed", zap.String("agent_id", agentID), zap.Error(err))
		return domain.FailurePrefix + ": " + trimText(err.Error(), 200) + ")"
	}
	return text
}

func (c *Client) generateOnce(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(reqCtx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	if strings.HasPrefix(text, domain.FailurePrefix) {
		return "", fmt.Errorf("%w: %s", ErrFailureReply, trimText(text, 80))
	}
	return text, nil
}

func (c *Client) History(agentID string) []domain.Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.history[agentID]
	out := make([]domain.Utterance, len(entries))
	copy(out, entries)
	return out
}

func (c *Client) ClearHistory(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, agentID)
}

func (c *Client) remember(agentID, prompt, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.history[agentID],
		domain.Utterance{Role: domain.RoleUser, Content: prompt},
		domain.Utterance{Role: domain.RoleAssistant, Content: reply},
	)
	if over := len(entries) - c.historySize; over > 0 {
		entries = append([]domain.Utterance(nil), entries[over:]...)
	}
	c.history[agentID] = entries
}

func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func trimText(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
