package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lecturequiz"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "Directory containing config.yaml")
	flag.Parse()

	cfg, err := lecturequiz.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := lecturequiz.NewLogger(lecturequiz.LogOptions{Mode: cfg.Log.Mode, File: cfg.Log.File})
	defer logger.Sync()
	lecturequiz.SetDefaultLogger(logger)
	lecturequiz.SetVerbose(cfg.Server.Mode == gin.DebugMode)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipeline, closePipeline, err := lecturequiz.NewPipelineFromConfig(ctx, cfg, logger, reg)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer func() {
		if err := closePipeline(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	store := sessions.NewCookieStore([]byte(cfg.Server.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Server.Mode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	}

	server := &Server{
		pipeline:       pipeline,
		sessions:       store,
		logger:         logger,
		maxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "ai_provider", cfg.AI.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
