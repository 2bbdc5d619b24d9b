package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/8007342/ai-way/internal/agents"
	"github.com/8007342/ai-way/internal/conductor"
	"github.com/8007342/ai-way/internal/config"
	"github.com/8007342/ai-way/internal/httpapi"
	"github.com/8007342/ai-way/internal/observability"
	"github.com/8007342/ai-way/internal/ollama"
	"github.com/8007342/ai-way/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	snapshotter, err := session.NewSnapshotter(ctx, cfg.DatabaseURL, cfg.SessionSnapshotPath)
	if err != nil {
		log.Fatalf("session snapshotter init failed: %v", err)
	}

	store, err := session.NewStore(ctx, snapshotter)
	if err != nil {
		// Unreadable history is a warning: the runtime starts fresh rather
		// than refusing to boot over it.
		log.Printf("warning: loading previous sessions failed: %v", err)
	}
	defer store.Close()
	if n := store.Len(); n > 0 {
		log.Printf("restored %d session(s)", n)
		metrics.SessionEvents.WithLabelValues("loaded").Add(float64(n))
		metrics.ActiveSessions.Set(float64(n))
	}

	backend := ollama.NewClient(ollama.Config{
		BaseURL: cfg.OllamaBaseURL,
		Timeout: cfg.OllamaTimeout,
	})

	profiles, loadErrs := agents.LoadAll(cfg.AgentsPath)
	for _, err := range loadErrs {
		log.Printf("warning: %v", err)
	}
	if len(profiles) == 0 {
		log.Printf("warning: no agent profiles under %s; every query will be answered directly", cfg.AgentsPath)
	}

	cond := conductor.New(profiles, backend, conductor.Config{
		ConductorModel:      cfg.ConductorModel,
		AgentModelPrefix:    cfg.AgentModelPrefix,
		MaxContextTurns:     cfg.MaxContextTurns,
		RoutingTemperature:  cfg.RoutingTemperature,
		ResponseTemperature: cfg.ResponseTemperature,
	}, metrics)
	log.Printf("conductor ready with %d agent(s)", cond.AgentCount())

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if cfg.SnapshotInterval > 0 {
		store.StartAutoPersist(runCtx, cfg.SnapshotInterval)
	}

	api := httpapi.New(cfg, store, cond, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("ai-way core listening on %s (ollama at %s)", cfg.BindAddr, cfg.OllamaBaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Transcripts survive restarts; persist before the snapshotter closes.
	if err := store.Persist(shutdownCtx); err != nil {
		log.Printf("warning: persisting sessions failed: %v", err)
	}

	log.Printf("shutdown complete")
}
