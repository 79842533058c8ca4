package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agora/internal/api"
	"agora/internal/chat"
	"agora/internal/config"
	"agora/internal/domain"
	"agora/internal/llm"
	"agora/internal/logging"
	"agora/internal/memory"
	"agora/internal/messaging/inproc"
	"agora/internal/messaging/natsbus"
	"agora/internal/metrics"
	"agora/internal/mood"
	sqlitestore "agora/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to agora.toml (default: ./agora.toml)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	demo := flag.Bool("demo", false, "create demo agents when the registry is empty")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	if err := run(cfg, logger, *addrFlag, *dbPathFlag, *demo); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger, addrOverride, dbOverride string, demo bool) error {
	addr := firstNonEmpty(addrOverride, cfg.Server.Addr, "127.0.0.1:8000")
	dbPath := filepath.Clean(firstNonEmpty(dbOverride, cfg.Storage.DBPath, "data/agents.db"))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	if demo {
		if err := bootstrapDemo(ctx, store); err != nil {
			logger.Warn("demo bootstrap failed", zap.Error(err))
		}
	}

	completions := llm.New(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		HistorySize:       cfg.LLM.HistorySize,
		Timeout:           durationMS(cfg.LLM.TimeoutMS, 30*time.Second),
		Retries:           cfg.LLM.Retries,
		RetryBackoff:      durationMS(cfg.LLM.RetryBackoffMS, time.Second),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Logger:            logger.Named("llm"),
	})
	if !completions.Configured() {
		logger.Warn("MISTRAL_API_KEY is not set, agents will not speak")
	}

	var index memory.Index
	if qdrantAddr := strings.TrimSpace(cfg.Memory.QdrantAddr); qdrantAddr != "" {
		qdrant, err := openQdrant(ctx, cfg.Memory)
		if err != nil {
			logger.Warn("semantic memory disabled", zap.String("qdrant", qdrantAddr), zap.Error(err))
		} else {
			defer func() {
				_ = qdrant.Close()
			}()
			index = qdrant
		}
	}
	memories := memory.New(store, index, logger.Named("memory"))
	rnd := chat.NewRandom(uint64(time.Now().UnixNano()))
	moods := mood.New(store, rnd)

	bus := inproc.New(256)
	publishers := []chat.Publisher{bus}
	if url := strings.TrimSpace(cfg.Messaging.NATSURL); url != "" {
		pub, err := natsbus.Connect(url, cfg.Messaging.NATSSubject, logger.Named("nats"))
		if err != nil {
			logger.Warn("nats publishing disabled", zap.String("url", url), zap.Error(err))
		} else {
			defer pub.Close()
			publishers = append(publishers, pub)
		}
	}

	var room *chat.Room
	promMetrics := metrics.New(func() int { return room.Len() })
	room = chat.New(store, completions, memories, chat.Config{
		Capacity: cfg.Chat.Capacity,
		Heuristic: chat.Heuristic{
			BaseProbability:  cfg.Chat.BaseProbability,
			QuestionBonus:    cfg.Chat.QuestionBonus,
			ExtrovertBonus:   cfg.Chat.ExtrovertBonus,
			IntrovertPenalty: cfg.Chat.IntrovertPenalty,
			DelayMin:         durationMS(cfg.Chat.ReplyDelayMinMS, time.Second),
			DelayMax:         durationMS(cfg.Chat.ReplyDelayMaxMS, 3*time.Second),
			EnsureReply:      cfg.Chat.EnsureReply,
		},
		Temperature:  float32(cfg.LLM.Temperature),
		IntervalMin:  durationMS(cfg.Background.IntervalMinMS, 10*time.Second),
		IntervalMax:  durationMS(cfg.Background.IntervalMaxMS, 30*time.Second),
		ErrorBackoff: durationMS(cfg.Background.ErrorBackoffMS, 5*time.Second),
		Random:       rnd,
		Metrics:      promMetrics,
		Publishers:   publishers,
	}, logger.Named("chat"))
	defer room.Close()

	if cfg.Background.AutoStart {
		room.StartBackground()
	}

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.New(api.Deps{
		Store:       store,
		Chat:        room,
		LLM:         completions,
		Memory:      memories,
		Mood:        moods,
		Stream:      bus,
		Metrics:     promMetrics,
		Logger:      logger.Named("http"),
		Temperature: float32(cfg.LLM.Temperature),
		CORSOrigin:  cfg.Server.CORSOrigin,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: durationMS(cfg.Server.ReadHeaderTimeoutMS, 5*time.Second),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	logger.Info("agora started",
		zap.String("addr", ln.Addr().String()),
		zap.String("db", dbPath),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("llm_configured", completions.Configured()),
		zap.Bool("semantic_memory", index != nil),
		zap.Int("publishers", len(publishers)),
	)

	shutdownTimeout := durationMS(cfg.Server.ShutdownTimeoutMS, 10*time.Second)
	if err := serve(ctx, server, ln, shutdownTimeout, func() {
		room.StopBackground()
		apiServer.Shutdown()
	}); err != nil {
		return err
	}
	logger.Info("agora stopped")
	return nil
}

// serve runs server on ln until ctx is done, then drains it. It returns only
// after in-flight requests have finished or timeout has passed.
func serve(ctx context.Context, server *http.Server, ln net.Listener, timeout time.Duration, beforeShutdown func()) error {
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(ln)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	if beforeShutdown != nil {
		beforeShutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("http shutdown: %w", shutdownErr)
	}
	return nil
}

func openQdrant(ctx context.Context, cfg config.MemoryConfig) (*memory.QdrantIndex, error) {
	embedder, err := memory.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return memory.DialQdrant(dialCtx, cfg.QdrantAddr, cfg.Collection, uint64(intOrDefault(cfg.VectorSize, 768)), embedder)
}

func bootstrapDemo(ctx context.Context, store *sqlitestore.Store) error {
	count, err := store.CountAgents(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seed := []domain.Agent{
		{Name: "Alice", Personality: "friendly", Mood: 0.7},
		{Name: "Boris", Personality: "thoughtful", Mood: 0.5},
		{Name: "Chloe", Personality: "curious", Mood: 0.6, Goal: "find out what everyone is working on"},
	}
	for _, agent := range seed {
		if _, err := store.CreateAgent(ctx, agent); err != nil {
			return fmt.Errorf("create demo agent %s: %w", agent.Name, err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
