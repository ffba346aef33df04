// Command ai-engine serves the retrieval and agent orchestration API
// for the platform.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planhub/ai-engine/pkg/agentexec"
	"github.com/planhub/ai-engine/pkg/chunking"
	"github.com/planhub/ai-engine/pkg/classifier"
	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/embedders"
	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/logger"
	"github.com/planhub/ai-engine/pkg/observability"
	"github.com/planhub/ai-engine/pkg/orchestrator"
	"github.com/planhub/ai-engine/pkg/retrieval"
	"github.com/planhub/ai-engine/pkg/server"
	"github.com/planhub/ai-engine/pkg/services"
	"github.com/planhub/ai-engine/pkg/session"
	"github.com/planhub/ai-engine/pkg/syncer"
	"github.com/planhub/ai-engine/pkg/tools"
	"github.com/planhub/ai-engine/pkg/vectordb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	config.LoadDotEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: logger.Format(cfg.Logging.Format),
	})

	shutdownTracing := observability.Init()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	embedder, err := embedders.NewProvider(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embedder.Close()

	store, err := vectordb.NewStore(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer store.Close()

	llm, err := llms.NewProvider(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}
	defer llm.Close()

	splitter, err := chunking.NewSplitter(chunking.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		Encoding:      cfg.Chunking.Encoding,
	})
	if err != nil {
		return fmt.Errorf("failed to create splitter: %w", err)
	}

	projectsClient := services.NewProjectsClient(cfg.Services.Projects)
	tasksClient := services.NewTasksClient(cfg.Services.Tasks)
	messagesClient := services.NewMessagesClient(cfg.Services.Messages)
	membersClient := services.NewMembersClient(cfg.Services.Members)

	registry := tools.NewRegistry()
	if err := tools.RegisterPlatformTools(registry, tools.PlatformClients{
		Projects: projectsClient,
		Tasks:    tasksClient,
		Messages: messagesClient,
		Members:  membersClient,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	pipeline := retrieval.NewPipeline(embedder, store, cfg.Retrieval)

	sync := syncer.New([]syncer.Fetcher{
		syncer.NewProjectsFetcher(projectsClient),
		syncer.NewTasksFetcher(tasksClient),
		syncer.NewMessagesFetcher(messagesClient, cfg.Sync.MessageLimit),
		syncer.NewMembersFetcher(membersClient),
	}, splitter, embedder, store)

	sessions := session.NewStore(cfg.Session.TTLDuration(), cfg.Session.WindowSize)
	sessions.StartJanitor(time.Duration(cfg.Session.SweepInterval) * time.Second)
	defer sessions.Stop()

	executor := agentexec.New(llm, registry, cfg.Agent.MaxIterations, cfg.Agent.MaxToolCallsPerTurn)

	engine := orchestrator.NewEngine(
		classifier.New(),
		pipeline,
		executor,
		llm,
		registry,
		sessions,
		sync,
		cfg.Agent,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Sync.Enabled && len(cfg.Sync.Organizations) > 0 {
		scheduler := syncer.NewScheduler(sync,
			time.Duration(cfg.Sync.Interval)*time.Second,
			func(ctx context.Context) ([]string, error) {
				return cfg.Sync.Organizations, nil
			})
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	srv := server.New(engine, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
