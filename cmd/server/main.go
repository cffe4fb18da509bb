package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docreview/internal/api"
	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/bootstrap"
	"github.com/dgallion1/docreview/internal/config"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/metrics"
	"github.com/dgallion1/docreview/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage.
	st, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Error("open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	files, err := artifacts.NewLocal(cfg.UploadDir, cfg.StorageDir)
	if err != nil {
		log.Error("init file storage", "error", err)
		os.Exit(1)
	}
	mirror, err := bootstrap.NewMirror(cfg)
	if err != nil {
		log.Error("init s3 mirror", "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	llm, err := bootstrap.NewLLMClient(cfg)
	if err != nil {
		log.Error("init llm client", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline. The queue gauge reads the orchestrator, which
	// needs the metrics first.
	var orch *pipeline.Orchestrator
	m := metrics.New(func() float64 {
		if orch == nil {
			return 0
		}
		return float64(orch.QueueDepth())
	})
	svc, err := bootstrap.NewService(cfg, llm, extract.NewLLMStats(time.Hour), m, log)
	if err != nil {
		log.Error("init review service", "error", err)
		os.Exit(1)
	}
	orch = pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Service: svc,
		Store:   st,
		Files:   files,
		Mirror:  mirror,
		Metrics: m,
		Author:  cfg.CommentAuthor,
	}, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Service:      svc,
		Store:        st,
		Files:        files,
		Mirror:       mirror,
		Metrics:      m,
		Drafts:       bootstrap.NewDrafter(cfg, svc, log),
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		llm.Close()
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	log.Info("starting docreview",
		"port", cfg.Port,
		"provider", cfg.LLMProvider,
		"model", llm.Model(),
		"store", cfg.StoreBackend,
		"s3_mirror", mirror != nil,
		"auth", cfg.AuthEnabled(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
