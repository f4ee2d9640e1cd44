package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/logger"
	"github.com/kharcha/reconciler/internal/repository"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 32 << 20
	maxBatchSize   = 5000
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	deps Deps
	log  zerolog.Logger
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	// Encode only fails once the client has gone away.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRepoError maps repository sentinels onto HTTP statuses.
func writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseBool(s string) *bool {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}

// normalizeMessage validates an inbound message and fills its timestamp.
func normalizeMessage(m *domain.Message, now time.Time) error {
	m.SenderID = strings.TrimSpace(m.SenderID)
	if m.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if strings.TrimSpace(m.Body) == "" {
		return errors.New("body is required")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC()
	return nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Ingestion ---

func (h *Handlers) IngestMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if !decodeBody(w, r, &msg) {
		return
	}
	if err := normalizeMessage(&msg, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.deps.Ingestion.Ingest(r.Context(), []domain.Message{msg})
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	if len(res.Decisions) == 0 {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	writeJSON(w, http.StatusOK, res.Decisions[0])
}

type batchRequest struct {
	Messages []domain.Message `json:"messages"`
}

func (h *Handlers) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if len(req.Messages) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch too large; use /messages/import")
		return
	}
	now := time.Now()
	for i := range req.Messages {
		if err := normalizeMessage(&req.Messages[i], now); err != nil {
			writeError(w, http.StatusBadRequest, "message "+strconv.Itoa(i)+": "+err.Error())
			return
		}
	}

	res, err := h.deps.Ingestion.Ingest(r.Context(), req.Messages)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	if r.URL.Query().Get("verbose") != "true" {
		res.Decisions = nil
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ImportCorpus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = ingestion.FormatAuto
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.deps.Ingestion.ImportCorpus(r.Context(), data, format)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if result.Batch != nil {
		result.Batch.Decisions = nil
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Parsing ---

type parseRequest struct {
	SenderID string `json:"sender_id"`
	Body     string `json:"body"`
}

type parseResponse struct {
	IsTransaction bool                      `json:"is_transaction"`
	RejectReason  string                    `json:"reject_reason,omitempty"`
	Parsed        *domain.ParsedTransaction `json:"parsed,omitempty"`
	Category      string                    `json:"category,omitempty"`
}

func (h *Handlers) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, reason := h.deps.Extractor.Extract(req.Body, req.SenderID)
	resp := parseResponse{IsTransaction: p != nil, RejectReason: string(reason), Parsed: p}
	if p != nil {
		resp.Category = extract.InferCategory(p.MerchantName)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) MatchAccount(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, reason := h.deps.Extractor.Extract(req.Body, req.SenderID)
	if p == nil {
		writeError(w, http.StatusUnprocessableEntity, "not a transaction: "+string(reason))
		return
	}
	accounts, err := h.deps.Accounts.ListLinked(r.Context())
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parsed": p,
		"match":  h.deps.Matcher.FindMatchingAccount(*p, req.SenderID, accounts),
	})
}

// --- Transactions ---

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		AccountID:   q.Get("account_id"),
		RecurringID: q.Get("recurring_id"),
		Category:    q.Get("category"),
		BankCode:    strings.ToUpper(q.Get("bank_code")),
		IsDebit:     parseBool(q.Get("is_debit")),
		From:        parseTime(q.Get("from")),
		To:          parseTime(q.Get("to")),
		Page:        parseIntDefault(q.Get("page"), 1),
		Limit:       parseIntDefault(q.Get("limit"), 50),
	}

	txns, total, err := h.deps.Transactions.List(r.Context(), filter)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.deps.Transactions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Transactions.GetSummary(r.Context())
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
