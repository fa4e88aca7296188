package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/koopa0/parley/internal/agent"
	"github.com/koopa0/parley/internal/api"
	"github.com/koopa0/parley/internal/chat"
	"github.com/koopa0/parley/internal/config"
	"github.com/koopa0/parley/internal/database"
	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/session"
	"github.com/koopa0/parley/internal/tools"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	})
}

// runServe wires the full application and blocks until SIGINT/SIGTERM.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting parley", "version", AppVersion, "addr", cfg.Addr())

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("closing database", "error", closeErr)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	store := session.New(db, logger.With("component", "session"))

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	toolHandler := tools.NewHandler(tools.Config{
		SearchBaseURL: cfg.SearchBaseURL,
		Logger:        logger.With("component", "tools"),
	})
	tools.Register(g, toolHandler)

	chatAgent, err := agent.New(agent.Config{
		Genkit:         g,
		Model:          cfg.FullModelName(),
		SystemPrompt:   cfg.SystemPrompt,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		MaxTurns:       cfg.MaxTurns,
		RequestTimeout: cfg.RequestTimeout,
		ToolNames:      cfg.EnabledTools,
		Logger:         logger.With("component", "agent"),
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	orchestrator, err := chat.New(chat.Config{
		Registry: store,
		Log:      store,
		Agent:    chatAgent,
		Logger:   logger.With("component", "chat"),
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	sweeper := session.NewSweeper(store, cfg.SweepInterval, cfg.SessionMaxAge,
		logger.With("component", "sweeper"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	server := api.NewServer(api.ServerConfig{
		Store:          store,
		Pinger:         store,
		Orchestrator:   orchestrator,
		APIKey:         cfg.APIKey,
		EnabledTools:   cfg.EnabledTools,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustProxy:     cfg.TrustProxy,
		Logger:         logger.With("component", "api"),
	})

	err = server.Run(ctx, cfg.Addr())

	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("parley stopped")
	return nil
}
