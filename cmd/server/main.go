package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/app"
	"github.com/kharcha/reconciler/internal/config"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("db", cfg.DBPath).Msg("initializing database")
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	// Seed the inbox if the DB is empty.
	count, err := a.Messages.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to count messages")
	}
	if count == 0 {
		log.Info().Msg("database is empty, seeding messages from testdata")
		if err := seedMessages(ctx, a.Ingestion, log); err != nil {
			log.Warn().Err(err).Msg("failed to seed messages")
		}
	} else {
		log.Info().Int("messages", count).Msg("database already has messages, skipping seed")
	}

	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start workers")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", "http://localhost:"+cfg.Port).
			Str("api", "/api/v1").
			Bool("ai_fallback", cfg.AIFallbackEnabled).
			Msg("kharcha SMS reconciler listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("close")
	}
}

func seedMessages(ctx context.Context, svc *ingestion.Service, log zerolog.Logger) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		filepath.Join("testdata", "messages.json"),
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "messages.json"),
			filepath.Join(dir, "..", "..", "testdata", "messages.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Info().Str("path", path).Msg("loaded seed messages")
			break
		}
	}
	if loadErr != nil {
		return loadErr
	}

	res, err := svc.ImportCorpus(ctx, data, ingestion.FormatJSON)
	if err != nil {
		return err
	}
	if res.Batch != nil {
		log.Info().
			Int("messages", res.MessagesStored).
			Int("inserted", res.Batch.Inserted).
			Int("duplicates", res.Batch.Duplicates).
			Msg("seeded messages")
	}
	return nil
}
