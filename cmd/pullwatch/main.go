package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/jcthomas/pullwatch/internal/adapter/driven/github"
	llmadapter "github.com/jcthomas/pullwatch/internal/adapter/driven/llm"
	sqliteadapter "github.com/jcthomas/pullwatch/internal/adapter/driven/sqlite"
	httphandler "github.com/jcthomas/pullwatch/internal/adapter/driving/http"
	"github.com/jcthomas/pullwatch/internal/application"
	"github.com/jcthomas/pullwatch/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars or rules file).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"flow_rules", len(rules.FlowRules),
		"llm_enabled", cfg.HasLLM(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	prStore := sqliteadapter.NewPRRepo(db)
	trackStore := sqliteadapter.NewTrackedRepoRepo(db)
	attentionStore := sqliteadapter.NewAttentionRepo(db)
	runStore := sqliteadapter.NewSyncRunRepo(db)
	cacheStore := sqliteadapter.NewAICacheRepo(db)
	auditStore := sqliteadapter.NewAuditRepo(db)

	// 6. Reconciler with the configured branch flow rules.
	reconciler := application.NewReconciler(prStore, attentionStore, rules.FlowRules)

	// 7. Sync service, active only when a GitHub token is configured. The API
	// still serves stored state without one.
	var syncSvc *application.SyncService
	if cfg.HasGitHubToken() {
		ghClient := githubadapter.NewClient(cfg.GitHubToken)
		syncSvc = application.NewSyncService(
			ghClient,
			trackStore,
			prStore,
			runStore,
			reconciler,
			cfg.PollInterval,
			application.WithRepoConcurrency(cfg.RepoConcurrency),
			application.WithPRConcurrency(cfg.PRConcurrency),
			application.WithRecentWindow(cfg.RecentWindow),
		)
		go syncSvc.Start(ctx)
	} else {
		slog.Warn("no github token configured, sync disabled")
	}

	// 8. Enrichment service, active only when an LLM endpoint is configured.
	breakers := application.NewBreakerRegistry()
	var enrichSvc *application.EnrichmentService
	if cfg.HasLLM() {
		runner := llmadapter.NewClient(llmadapter.Config{
			Endpoint: cfg.LLMEndpoint,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
		})

		cacheOpts := make([]application.CacheOption, 0, len(rules.TTLs))
		for feature, ttl := range rules.TTLs {
			cacheOpts = append(cacheOpts, application.WithFeatureTTL(feature, ttl))
		}
		cacheSvc := application.NewCacheService(cacheStore, cacheOpts...)

		enrichSvc = application.NewEnrichmentService(runner, cacheSvc, breakers, auditStore, attentionStore)
		slog.Info("enrichment enabled", "model", cfg.LLMModel)
	} else {
		slog.Info("no llm endpoint configured, enrichment disabled")
	}

	// 9. HTTP API. The nil-interface indirection keeps the handler's optional
	// dependencies actually nil when a service is disabled.
	var syncer httphandler.Syncer
	if syncSvc != nil {
		syncer = syncSvc
	}
	var enricher httphandler.Enricher
	if enrichSvc != nil {
		enricher = enrichSvc
	}

	apiHandler := httphandler.NewHandler(
		prStore, trackStore, attentionStore, runStore,
		syncer, enricher, breakers, slog.Default(),
	)
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("pullwatch started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
	)

	// 10. Wait for shutdown signal, then drain the HTTP server.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
