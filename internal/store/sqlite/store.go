package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agora/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	personality TEXT NOT NULL,
	mood REAL NOT NULL DEFAULT 0.5,
	location TEXT NOT NULL DEFAULT '',
	goal TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	content TEXT NOT NULL,
	emotion TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	FOREIGN KEY(agent_id) REFERENCES agents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, timestamp);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateAgent fills in id, defaults and creation time before inserting and
// returns the stored record.
func (s *Store) CreateAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if strings.TrimSpace(agent.Personality) == "" {
		agent.Personality = domain.DefaultPersonality
	}
	if strings.TrimSpace(agent.Location) == "" {
		agent.Location = domain.DefaultLocation
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO agents(id, name, personality, mood, location, goal, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Personality, agent.Mood, agent.Location, agent.Goal,
		agent.CreatedAt.Unix(),
	)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("create agent: %w", err)
	}
	agent.CreatedAt = unixToTime(agent.CreatedAt.Unix())
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (domain.Agent, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, personality, mood, location, goal, created_at
		FROM agents WHERE id = ?`,
		agentID,
	)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, fmt.Errorf("get agent %s: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, personality, mood, location, goal, created_at
		FROM agents ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return result, nil
}

func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM agents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateAgentMood(ctx context.Context, agentID string, mood float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET mood = ? WHERE id = ?`, mood, agentID)
	if err != nil {
		return fmt.Errorf("update agent mood: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent mood rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update agent mood %s: %w", agentID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Type == "" {
		event.Type = domain.EventTypeMessage
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events(id, content, agent_id, type, timestamp) VALUES(?, ?, ?, ?, ?)`,
		event.ID, event.Content, event.AgentID, string(event.Type), event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

// ListEvents returns the newest events first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, content, agent_id, type, timestamp
		FROM events ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		var eventType string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Content, &e.AgentID, &eventType, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		e.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *Store) AddMemory(ctx context.Context, memory domain.Memory) (domain.Memory, error) {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO memories(id, agent_id, content, emotion, timestamp) VALUES(?, ?, ?, ?, ?)`,
		memory.ID, memory.AgentID, memory.Content, memory.Emotion, memory.Timestamp.UnixMilli(),
	)
	if err != nil {
		return domain.Memory{}, fmt.Errorf("add memory: %w", err)
	}
	return memory, nil
}

// SearchMemories does a case-insensitive substring match over an agent's
// memories, newest first. An empty query returns the latest memories.
func (s *Store) SearchMemories(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 3
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, agent_id, content, emotion, timestamp
		FROM memories
		WHERE agent_id = ? AND LOWER(content) LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`,
		agentID, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	memories := make([]domain.Memory, 0)
	for rows.Next() {
		var m domain.Memory
		var ts int64
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Content, &m.Emotion, &ts); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return memories, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var created int64
	if err := row.Scan(&a.ID, &a.Name, &a.Personality, &a.Mood, &a.Location, &a.Goal, &created); err != nil {
		return domain.Agent{}, err
	}
	a.CreatedAt = unixToTime(created)
	return a, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func escapeLike(v string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(v)
}
