package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "agora.toml"

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	LLM        LLMConfig        `toml:"llm"`
	Chat       ChatConfig       `toml:"chat"`
	Background BackgroundConfig `toml:"background"`
	Memory     MemoryConfig     `toml:"memory"`
	Logging    LoggingConfig    `toml:"logging"`
	Messaging  MessagingConfig  `toml:"messaging"`
	Raw        map[string]any   `toml:"-"`
	Path       string           `toml:"-"`
}

type ServerConfig struct {
	Addr                string `toml:"addr"`
	ReadHeaderTimeoutMS int    `toml:"read_header_timeout_ms"`
	ShutdownTimeoutMS   int    `toml:"shutdown_timeout_ms"`
	CORSOrigin          string `toml:"cors_origin"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type LLMConfig struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	HistorySize       int     `toml:"history_size"`
	TimeoutMS         int     `toml:"timeout_ms"`
	// Retries of 0 selects the client default; negative disables retrying.
	Retries           int     `toml:"retries"`
	RetryBackoffMS    int     `toml:"retry_backoff_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type ChatConfig struct {
	Capacity         int     `toml:"capacity"`
	BaseProbability  float64 `toml:"base_probability"`
	QuestionBonus    float64 `toml:"question_bonus"`
	ExtrovertBonus   float64 `toml:"extrovert_bonus"`
	IntrovertPenalty float64 `toml:"introvert_penalty"`
	ReplyDelayMinMS  int     `toml:"reply_delay_min_ms"`
	ReplyDelayMaxMS  int     `toml:"reply_delay_max_ms"`
	EnsureReply      bool    `toml:"ensure_reply"`
}

type BackgroundConfig struct {
	AutoStart      bool `toml:"autostart"`
	IntervalMinMS  int  `toml:"interval_min_ms"`
	IntervalMaxMS  int  `toml:"interval_max_ms"`
	ErrorBackoffMS int  `toml:"error_backoff_ms"`
}

type MemoryConfig struct {
	QdrantAddr     string `toml:"qdrant_addr"`
	Collection     string `toml:"collection"`
	VectorSize     int    `toml:"vector_size"`
	OllamaURL      string `toml:"ollama_url"`
	EmbeddingModel string `toml:"embedding_model"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type MessagingConfig struct {
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                "127.0.0.1:8000",
			ReadHeaderTimeoutMS: 5000,
			ShutdownTimeoutMS:   10000,
			CORSOrigin:          "*",
		},
		Storage: StorageConfig{DBPath: "data/agents.db"},
		LLM: LLMConfig{
			BaseURL:        "https://api.mistral.ai/v1",
			Model:          "mistral-small-latest",
			Temperature:    0.7,
			MaxTokens:      150,
			HistorySize:    10,
			TimeoutMS:      30000,
			Retries:        2,
			RetryBackoffMS: 1000,
		},
		Chat: ChatConfig{
			Capacity:         200,
			BaseProbability:  0.4,
			QuestionBonus:    0.3,
			ExtrovertBonus:   0.2,
			IntrovertPenalty: 0.1,
			ReplyDelayMinMS:  1000,
			ReplyDelayMaxMS:  3000,
		},
		Background: BackgroundConfig{
			IntervalMinMS:  10000,
			IntervalMaxMS:  30000,
			ErrorBackoffMS: 5000,
		},
		Memory: MemoryConfig{
			Collection:     "agent_memories",
			VectorSize:     768,
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
		},
		Logging:   LoggingConfig{Level: "info", File: "logs/backend.log"},
		Messaging: MessagingConfig{NATSSubject: "agora.chat.messages"},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = DefaultPath
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	cfg := Default()
	bytes, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	default:
		if _, err := toml.Decode(string(bytes), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		var raw map[string]any
		if _, err := toml.Decode(string(bytes), &raw); err != nil {
			return Config{}, fmt.Errorf("decode raw config: %w", err)
		}
		cfg.Raw = raw
		cfg.Path = resolved
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"AGORA_ADDR":      &c.Server.Addr,
		"MISTRAL_API_KEY": &c.LLM.APIKey,
		"MISTRAL_MODEL":   &c.LLM.Model,
		"LLM_BASE_URL":    &c.LLM.BaseURL,
		"DATABASE_PATH":   &c.Storage.DBPath,
		"LOG_FILE":        &c.Logging.File,
		"LOG_LEVEL":       &c.Logging.Level,
		"QDRANT_ADDR":     &c.Memory.QdrantAddr,
		"OLLAMA_URL":      &c.Memory.OllamaURL,
		"NATS_URL":        &c.Messaging.NATSURL,
	}
	for key, target := range strs {
		if v, ok := lookup(key); ok {
			*target = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("BACKGROUND_AUTOSTART"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse BACKGROUND_AUTOSTART: %w", err)
		}
		c.Background.AutoStart = b
	}
	if v, ok := lookup("MISTRAL_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("parse MISTRAL_TEMPERATURE: %w", err)
		}
		c.LLM.Temperature = f
	}
	return nil
}
