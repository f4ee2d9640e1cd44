// Package app wires configuration, storage and services into one value
// shared by the HTTP server and the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/aifallback"
	"github.com/kharcha/reconciler/internal/api"
	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/config"
	"github.com/kharcha/reconciler/internal/discovery"
	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/matching"
	"github.com/kharcha/reconciler/internal/reconciliation"
	"github.com/kharcha/reconciler/internal/repository"
)

type App struct {
	DB        *sql.DB
	Directory *bankdir.Directory
	Extractor *extract.Extractor
	Matcher   *matching.Matcher
	Scanner   *discovery.Scanner

	Accounts     *repository.AccountRepo
	Recurring    *repository.RecurringRepo
	Transactions *repository.TransactionRepo
	Messages     *repository.MessageRepo
	Banks        *repository.BankRepo

	Coordinator *ingestion.Coordinator
	Ingestion   *ingestion.Service
	// Fallback is nil unless AIFallbackEnabled is set.
	Fallback *aifallback.Queue

	log zerolog.Logger
}

// LoadDirectory returns the embedded bank directory, or the JSON file at
// path when one is given.
func LoadDirectory(path string) (*bankdir.Directory, error) {
	if path == "" {
		return bankdir.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bank directory: %w", err)
	}
	defer f.Close()
	return bankdir.Load(f)
}

// New opens the database and builds every service. The fallback queue, when
// enabled, is created but not started; call Start.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	dir, err := LoadDirectory(cfg.BankDirectoryPath)
	if err != nil {
		return nil, err
	}

	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		DB:           db,
		Directory:    dir,
		Extractor:    extract.New(dir),
		Matcher:      matching.New(dir),
		Scanner:      discovery.New(dir, cfg.DiscoveryEmitEvery, log),
		Accounts:     repository.NewAccountRepo(db),
		Recurring:    repository.NewRecurringRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Messages:     repository.NewMessageRepo(db),
		Banks:        repository.NewBankRepo(db),
		log:          log,
	}

	deps := ingestion.Deps{
		Extractor:    a.Extractor,
		Matcher:      a.Matcher,
		Correlator:   reconciliation.NewCorrelator(cfg.RecurringTolerance, cfg.RecurringWindow),
		Transactions: a.Transactions,
		Accounts:     a.Accounts,
		Recurring:    a.Recurring,
	}

	if cfg.AIFallbackEnabled {
		parser, err := aifallback.NewGeminiParser(ctx, os.Getenv("GEMINI_API_KEY"), cfg.AIModel, dir)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Fallback = aifallback.NewQueue(parser, a.sinkParsed, aifallback.Options{Workers: cfg.AIWorkers}, log)
		deps.Fallback = a.Fallback
	}

	a.Coordinator = ingestion.NewCoordinator(deps, ingestion.Options{
		DuplicateWindow: cfg.DuplicateWindow,
		MinAccountScore: cfg.MinAccountScore,
	}, log)
	a.Ingestion = ingestion.NewService(a.Messages, a.Coordinator, log)
	return a, nil
}

// sinkParsed feeds a fallback parse back through the coordinator. Failed
// decisions return an error so the job is retried.
func (a *App) sinkParsed(ctx context.Context, msg domain.Message, p domain.ParsedTransaction) (string, error) {
	d := a.Coordinator.ProcessParsed(ctx, msg, p)
	if d.Outcome == ingestion.OutcomeFailed {
		return string(d.Outcome), d.Err
	}
	return string(d.Outcome), nil
}

// Start launches background workers.
func (a *App) Start(ctx context.Context) error {
	if a.Fallback == nil {
		return nil
	}
	return a.Fallback.Start(ctx)
}

// Router returns the HTTP handler for the API.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Deps{
		Directory:    a.Directory,
		Extractor:    a.Extractor,
		Matcher:      a.Matcher,
		Scanner:      a.Scanner,
		Ingestion:    a.Ingestion,
		Fallback:     a.Fallback,
		Accounts:     a.Accounts,
		Recurring:    a.Recurring,
		Transactions: a.Transactions,
		Messages:     a.Messages,
		Banks:        a.Banks,
	}, a.log)
}

// Close stops background work, bounded by ctx, and closes the database.
func (a *App) Close(ctx context.Context) error {
	if a.Fallback != nil {
		if err := a.Fallback.Stop(ctx); err != nil {
			a.log.Warn().Err(err).Msg("fallback queue did not drain")
		}
	}
	return a.DB.Close()
}
