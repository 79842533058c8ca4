package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"agora/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// snapshot is everything one refresh of the dashboard shows.
type snapshot struct {
	Agents   []domain.Agent
	Messages []domain.ChatMessage
	Events   []domain.Event
	Graph    domain.Graph
	Status   domain.ChatStatus
}

func (c *client) snapshot(ctx context.Context, chatLimit, eventLimit int) (snapshot, error) {
	var snap snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(ctx, "/agents", &snap.Agents)
	})
	g.Go(func() error {
		var page struct {
			Messages []domain.ChatMessage `json:"messages"`
		}
		if err := c.getJSON(ctx, fmt.Sprintf("/chat/messages?limit=%d", chatLimit), &page); err != nil {
			return err
		}
		snap.Messages = page.Messages
		return nil
	})
	g.Go(func() error {
		return c.getJSON(ctx, fmt.Sprintf("/events?limit=%d", eventLimit), &snap.Events)
	})
	g.Go(func() error {
		return c.getJSON(ctx, "/graph", &snap.Graph)
	})
	g.Go(func() error {
		return c.getJSON(ctx, "/chat/background/status", &snap.Status)
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (c *client) createAgent(ctx context.Context, name, personality string) (domain.Agent, error) {
	var agent domain.Agent
	err := c.postJSON(ctx, "/agents", map[string]string{"name": name, "personality": personality}, &agent)
	return agent, err
}

func (c *client) sendAsHuman(ctx context.Context, text string) error {
	return c.postJSON(ctx, "/chat/user", map[string]string{"message": text}, nil)
}

func (c *client) sendAsAgent(ctx context.Context, agentID, text string) error {
	return c.postJSON(ctx, "/chat/send", map[string]string{"agent_id": agentID, "message": text}, nil)
}

func (c *client) messageAgent(ctx context.Context, agentID, text string) (string, error) {
	var out struct {
		Reply   string `json:"reply"`
		Emotion string `json:"emotion"`
	}
	if err := c.postJSON(ctx, "/agents/"+url.PathEscape(agentID)+"/message", map[string]string{"message": text}, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Emotion + " " + out.Reply), nil
}

func (c *client) globalEvent(ctx context.Context, text string) (int, error) {
	var out struct {
		Affected int `json:"affected"`
	}
	err := c.postJSON(ctx, "/events", map[string]string{"content": text}, &out)
	return out.Affected, err
}

func (c *client) toggleBackground(ctx context.Context, running bool) (string, error) {
	path := "/chat/background/start"
	if running {
		path = "/chat/background/stop"
	}
	var out struct {
		Status string `json:"status"`
	}
	err := c.postJSON(ctx, path, nil, &out)
	return out.Status, err
}

func (c *client) clearChat(ctx context.Context) error {
	return c.postJSON(ctx, "/chat/clear", nil, nil)
}

func (c *client) waitHealth(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var out map[string]any
		if err := c.getJSON(ctx, "/healthz", &out); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for %s/healthz", c.baseURL)
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) postJSON(ctx context.Context, path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("http %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
