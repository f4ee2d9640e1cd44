package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/logger"
)

// Corpus formats accepted by ImportCorpus.
const (
	FormatXML  = "xml"
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatAuto = "auto"
)

// MessageStore persists raw messages and corpus imports.
type MessageStore interface {
	ImportExistsByHash(ctx context.Context, hash string) (bool, error)
	SaveImport(ctx context.Context, imp *domain.CorpusImport, msgs []domain.Message) (int, error)
	BulkInsert(ctx context.Context, msgs []domain.Message) (int, error)
}

// ImportResult is returned from ImportCorpus.
type ImportResult struct {
	ImportID        string       `json:"import_id,omitempty"`
	Format          string       `json:"format"`
	AlreadyImported bool         `json:"already_imported"`
	MessagesParsed  int          `json:"messages_parsed"`
	MessagesStored  int          `json:"messages_stored"`
	Batch           *BatchResult `json:"batch,omitempty"`
}

// Service stores inbound messages and runs them through the coordinator.
type Service struct {
	messages MessageStore
	coord    *Coordinator
	log      zerolog.Logger
}

func NewService(messages MessageStore, coord *Coordinator, log zerolog.Logger) *Service {
	return &Service{
		messages: messages,
		coord:    coord,
		log:      logger.Component(log, "ingestion"),
	}
}

// Ingest stores live messages and processes them.
func (s *Service) Ingest(ctx context.Context, msgs []domain.Message) (BatchResult, error) {
	if _, err := s.messages.BulkInsert(ctx, msgs); err != nil {
		return BatchResult{}, fmt.Errorf("store messages: %w", err)
	}
	return s.coord.ProcessBatch(ctx, msgs), nil
}

// ImportCorpus parses a corpus file and ingests its messages. Importing the
// same bytes twice is a no-op reported with AlreadyImported.
func (s *Service) ImportCorpus(ctx context.Context, data []byte, format string) (*ImportResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.messages.ImportExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		s.log.Info().Str("hash", hash[:12]).Msg("corpus already imported")
		return &ImportResult{Format: format, AlreadyImported: true}, nil
	}

	if format == "" || format == FormatAuto {
		format = DetectFormat(data)
	}
	msgs, err := ParseCorpus(data, format)
	if err != nil {
		return nil, err
	}

	imp := &domain.CorpusImport{
		ID:           uuid.NewString(),
		Format:       format,
		FileHash:     hash,
		MessageCount: len(msgs),
		ImportedAt:   time.Now().UTC(),
	}
	stored, err := s.messages.SaveImport(ctx, imp, msgs)
	if err != nil {
		return nil, fmt.Errorf("save import: %w", err)
	}

	s.log.Info().
		Str("import", imp.ID).
		Str("format", format).
		Int("parsed", len(msgs)).
		Int("stored", stored).
		Msg("corpus imported")

	batch := s.coord.ProcessBatch(ctx, msgs)
	return &ImportResult{
		ImportID:       imp.ID,
		Format:         format,
		MessagesParsed: len(msgs),
		MessagesStored: stored,
		Batch:          &batch,
	}, nil
}

// ParseCorpus decodes data in the given format.
func ParseCorpus(data []byte, format string) ([]domain.Message, error) {
	var (
		msgs []domain.Message
		err  error
	)
	switch strings.ToLower(format) {
	case FormatXML:
		msgs, err = ParseXMLCorpus(data)
	case FormatJSON:
		msgs, err = ParseJSONCorpus(data)
	case FormatCSV:
		msgs, err = ParseCSVCorpus(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	return msgs, nil
}

// DetectFormat guesses the corpus format from its first significant byte.
func DetectFormat(data []byte) string {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) == 0 {
		return FormatCSV
	}
	switch trimmed[0] {
	case '<':
		return FormatXML
	case '[', '{':
		return FormatJSON
	default:
		return FormatCSV
	}
}

