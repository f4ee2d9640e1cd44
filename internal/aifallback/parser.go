package aifallback

import (
	"context"
	"errors"
	"strings"

	"github.com/kharcha/reconciler/internal/domain"
)

// ErrNotTransaction is returned by a Parser that is confident the message
// is not a completed transaction. Jobs failing with it are not retried.
var ErrNotTransaction = errors.New("not a transaction")

// Parser turns one raw message into a parsed transaction.
type Parser interface {
	Parse(ctx context.Context, msg domain.Message) (*domain.ParsedTransaction, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, msg domain.Message) (*domain.ParsedTransaction, error)

func (f ParserFunc) Parse(ctx context.Context, msg domain.Message) (*domain.ParsedTransaction, error) {
	return f(ctx, msg)
}

// cleanModelJSON strips Markdown fences and any prose around the first JSON
// object in a model reply.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
