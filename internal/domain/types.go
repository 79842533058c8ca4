package domain

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// HumanSenderID is the sender id carried by messages typed by the human user.
const HumanSenderID = "user"

// FailurePrefix starts every text a completion client returns in place of a
// reply when generation failed or is not configured.
const FailurePrefix = "(error"

const (
	DefaultPersonality = "friendly"
	DefaultMood        = 0.5
	DefaultLocation    = "common area"
)

type MessageKind string

const (
	MessageKindHuman              MessageKind = "human"
	MessageKindAgent              MessageKind = "agent"
	MessageKindAgentSelfInitiated MessageKind = "agent_self_initiated"
)

type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeGlobal  EventType = "global"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Personality string    `json:"personality"`
	Mood        float64   `json:"mood"`
	Location    string    `json:"location"`
	Goal        string    `json:"goal,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is immutable once appended to the chat log.
type ChatMessage struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       string      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
	Kind       MessageKind `json:"kind"`
	InReplyTo  string      `json:"in_reply_to,omitempty"`
}

func (m ChatMessage) FromHuman() bool {
	return m.SenderID == HumanSenderID
}

type Utterance struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Event struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AgentID   string    `json:"agent_id,omitempty"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type Memory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Emotion   string    `json:"emotion"`
	Timestamp time.Time `json:"timestamp"`
	Score     float32   `json:"score,omitempty"`
}

type GraphNode struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Mood float64 `json:"mood"`
}

type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type ChatStatus struct {
	Running      bool `json:"running"`
	MessageCount int  `json:"message_count"`
	AgentCount   int  `json:"agent_count"`
}
