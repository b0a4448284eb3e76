package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicebrief/backend/internal/api"
	"github.com/voicebrief/backend/internal/auth"
	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/config"
	"github.com/voicebrief/backend/internal/db"
	"github.com/voicebrief/backend/internal/logger"
	"github.com/voicebrief/backend/internal/pipeline"
	"github.com/voicebrief/backend/internal/summary"
	"github.com/voicebrief/backend/internal/transcribe"
	"github.com/voicebrief/backend/internal/watcher"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	cfg := config.Load()
	log := logger.New()

	os.MkdirAll(cfg.DataPath, 0755)

	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer database.Close()

	if err := database.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.WithError(err).Fatal("failed to create admin user")
	}
	log.WithField("username", cfg.AdminUsername).Info("admin user ensured")

	blobs, err := blob.NewFilesystemStore(cfg.BlobPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize blob store")
	}

	stt := transcribe.NewClient(cfg.STTBaseURL, cfg.STTLanguage, cfg.PollInterval, cfg.PollTimeout)
	summarizer := summary.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)

	coordinator := pipeline.NewCoordinator(database, blobs, stt, summarizer,
		cfg.ChunkDuration, cfg.MaxWorkers, cfg.SummaryPrefix)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	router := api.NewRouter(database, jwtService, cfg, blobs, coordinator)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional inbox: recordings dropped into this directory enter the
	// pipeline without going through the HTTP upload.
	if cfg.InboxPath != "" {
		os.MkdirAll(cfg.InboxPath, 0755)
		inbox, err := watcher.New(cfg.InboxPath, blobs, func(ctx context.Context, trig pipeline.Trigger) error {
			_, err := coordinator.Run(ctx, trig)
			return err
		})
		if err != nil {
			log.WithError(err).Fatal("failed to start inbox watcher")
		}
		defer inbox.Stop()
		go func() {
			if err := inbox.Start(ctx); err != nil && err != context.Canceled {
				log.WithError(err).Error("inbox watcher exited")
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
