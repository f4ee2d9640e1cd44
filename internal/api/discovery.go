package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/logger"
)

type scanRequest struct {
	// Since bounds a scan over stored messages. Ignored when Messages is set.
	Since    string           `json:"since"`
	Messages []domain.Message `json:"messages"`
}

// ScanDiscovery streams cumulative discovery snapshots as NDJSON. The body
// is optional; without inline messages the stored inbox is scanned. The
// final snapshot is merged into the discovered banks table.
func (h *Handlers) ScanDiscovery(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	var since time.Time
	if t := parseTime(req.Since); t != nil {
		since = *t
	} else if req.Since != "" {
		writeError(w, http.StatusBadRequest, "since must be RFC 3339 or YYYY-MM-DD")
		return
	}

	log := logger.FromContext(r.Context())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	in := make(chan domain.Message, 64)
	feedErr := make(chan error, 1)
	go func() {
		err := h.feed(ctx, req.Messages, since, in)
		if err != nil {
			cancel()
		}
		feedErr <- err
		close(in)
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	var last domain.DiscoveryResult
	for snap := range h.deps.Scanner.Discover(ctx, in) {
		last = snap
		if err := enc.Encode(snap); err != nil {
			cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := <-feedErr; err != nil {
		log.Warn().Err(err).Msg("discovery feed failed")
		return
	}
	if !last.IsComplete {
		return
	}

	banks := append(append([]domain.DiscoveredBank{}, last.DetectedBanks...), last.UnknownSenders...)
	created, err := h.deps.Banks.MergeDiscovered(context.WithoutCancel(r.Context()), banks, time.Now().UTC())
	if err != nil {
		log.Warn().Err(err).Msg("persist discovered banks")
		return
	}
	log.Info().Int("banks", len(banks)).Int("new", created).Int("scanned", last.ScannedCount).Msg("discovery persisted")
}

func (h *Handlers) feed(ctx context.Context, inline []domain.Message, since time.Time, in chan<- domain.Message) error {
	send := func(m domain.Message) error {
		select {
		case in <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(inline) > 0 {
		for _, m := range inline {
			if err := send(m); err != nil {
				return err
			}
		}
		return nil
	}
	return h.deps.Messages.Stream(ctx, since, send)
}

func (h *Handlers) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.deps.Banks.List(r.Context())
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": banks})
}

func (h *Handlers) ListDirectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"banks": h.deps.Directory.Banks()})
}

func (h *Handlers) ListFallbackJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Fallback == nil {
		writeError(w, http.StatusNotFound, "model fallback is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.deps.Fallback.Jobs()})
}

func (h *Handlers) GetFallbackJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Fallback == nil {
		writeError(w, http.StatusNotFound, "model fallback is disabled")
		return
	}
	job, ok := h.deps.Fallback.Job(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
