package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"google.golang.org/genai"

	"github.com/agentic-pharmacy/server/internal/agent/graph"
	"github.com/agentic-pharmacy/server/internal/agent/llm"
	"github.com/agentic-pharmacy/server/internal/agent/model"
	"github.com/agentic-pharmacy/server/internal/agent/repo"
	"github.com/agentic-pharmacy/server/internal/agent/tools"
	"github.com/agentic-pharmacy/server/internal/api"
	"github.com/agentic-pharmacy/server/internal/core"
	"github.com/agentic-pharmacy/server/internal/knowledge"
	"github.com/agentic-pharmacy/server/internal/metrics"
	"github.com/agentic-pharmacy/server/internal/pharmacy"
	"github.com/agentic-pharmacy/server/internal/vision"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
	pkgredis "github.com/agentic-pharmacy/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config
	DB    pharmacy.DBConfig
	HTTP  api.Config

	// Pharmacy
	Seed      pharmacy.SeedConfig
	Order     pharmacy.OrderConfig
	Scan      pharmacy.ScanConfig
	Scheduler pharmacy.SchedulerConfig
	Knowledge knowledge.Config
	Vision    vision.Config

	// Agent
	Model        model.ModelConfig
	Conversation model.ConversationConfig
	Prompt       model.PromptConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(ctx context.Context, cfg AppConfig) error {
	m := metrics.NewMetrics()

	// ================= Inventory =================
	store, err := pharmacy.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := pharmacy.Seed(ctx, store, cfg.Seed); err != nil {
		return err
	}

	orders := pharmacy.NewOrderService(store, cfg.Order, pharmacy.WithOrderMetrics(m))
	scanner := pharmacy.NewScanner(store, cfg.Scan)

	scheduler, err := pharmacy.NewScheduler(scanner, cfg.Scheduler, m)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ================= Checkpoints =================
	var checkpoints model.CheckpointStore
	if cfg.Redis.Disabled {
		logx.Warn().Msg("Redis disabled; conversation checkpoints are kept in memory")
		checkpoints = repo.NewMemoryCheckpointStore()
	} else {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logx.Info().Msg("Connected to Redis successfully")
		checkpoints = repo.NewRedisCheckpointStore(rdb, cfg.Conversation.TTL)
	}

	// ================= Agent =================
	chatModel, err := llm.NewGeminiRotatingModel(ctx, cfg.Model, m)
	if err != nil {
		return err
	}

	kb, err := knowledge.NewKeywordRetriever(cfg.Knowledge)
	if err != nil {
		return err
	}
	dispatcher := tools.NewDispatcher(store, orders, scanner, knowledge.NewSearcher(kb, cfg.Knowledge.TopK))

	runner, err := graph.BuildAgentGraph(ctx, graph.Config{
		ChatModel:    chatModel,
		ModelName:    cfg.Model.Model,
		Tools:        tools.NewSet(dispatcher, m),
		Checkpoints:  checkpoints,
		Conversation: cfg.Conversation,
		Prompt:       cfg.Prompt,
		Metrics:      m,
	})
	if err != nil {
		return err
	}

	// ================= Vision =================
	var clients []*genai.Client
	for _, key := range cfg.Model.Keys() {
		client, err := llm.NewGeminiClient(ctx, key, cfg.Model.BaseURL)
		if err != nil {
			return err
		}
		clients = append(clients, client)
	}
	analyzer, err := vision.NewGeminiAnalyzer(clients, cfg.Vision.Model)
	if err != nil {
		return err
	}

	// ================= HTTP =================
	handler := api.NewHandler(runner, store, scanner, vision.NewService(analyzer), cfg.Vision.MaxUpload)
	srv := api.NewServer(api.NewRouter(handler, cfg.HTTP, m.Handler()), cfg.HTTP)

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", cfg.HTTP.Addr).Str("environment", cfg.Environment.String()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
