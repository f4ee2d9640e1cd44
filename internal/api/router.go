package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/aifallback"
	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/discovery"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/logger"
	"github.com/kharcha/reconciler/internal/matching"
	"github.com/kharcha/reconciler/internal/repository"
)

// Deps are the services the HTTP layer exposes. Fallback may be nil when the
// model fallback is disabled.
type Deps struct {
	Directory    *bankdir.Directory
	Extractor    *extract.Extractor
	Matcher      *matching.Matcher
	Scanner      *discovery.Scanner
	Ingestion    *ingestion.Service
	Fallback     *aifallback.Queue
	Accounts     *repository.AccountRepo
	Recurring    *repository.RecurringRepo
	Transactions *repository.TransactionRepo
	Messages     *repository.MessageRepo
	Banks        *repository.BankRepo
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	h := &Handlers{deps: deps, log: logger.Component(log, "api")}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion.
		r.Post("/messages", h.IngestMessage)
		r.Post("/messages/batch", h.IngestBatch)
		r.Post("/messages/import", h.ImportCorpus)

		// Stateless parsing.
		r.Post("/parse", h.Parse)
		r.Post("/accounts/match", h.MatchAccount)

		// Accounts and recurring templates.
		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Get("/recurring", h.ListRecurring)
		r.Post("/recurring", h.CreateRecurring)

		// Transactions.
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/summary", h.GetSummary)
		r.Get("/transactions/{id}", h.GetTransaction)

		// Discovery.
		r.Post("/discovery/scan", h.ScanDiscovery)
		r.Get("/banks", h.ListBanks)
		r.Get("/directory", h.ListDirectory)

		// Model fallback.
		r.Get("/fallback/jobs", h.ListFallbackJobs)
		r.Get("/fallback/jobs/{id}", h.GetFallbackJob)
	})

	return r
}
