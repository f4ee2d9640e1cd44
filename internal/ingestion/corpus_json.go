package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kharcha/reconciler/internal/domain"
)

type jsonCorpusEntry struct {
	SenderID  string          `json:"sender_id"`
	Body      string          `json:"body"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type jsonCorpusFile struct {
	Messages []jsonCorpusEntry `json:"messages"`
}

// ParseJSONCorpus parses either a bare array of messages or an object with
// a "messages" array. Timestamps may be RFC 3339 strings or epoch
// milliseconds.
func ParseJSONCorpus(data []byte) ([]domain.Message, error) {
	var entries []jsonCorpusEntry
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var file jsonCorpusFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		entries = file.Messages
	} else if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	msgs := make([]domain.Message, 0, len(entries))
	for i, e := range entries {
		sender := strings.TrimSpace(e.SenderID)
		body := strings.TrimSpace(e.Body)
		if sender == "" || body == "" {
			continue
		}
		raw := strings.Trim(string(e.Timestamp), `"`)
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d timestamp: %w", i, err)
		}
		msgs = append(msgs, domain.Message{SenderID: sender, Body: body, Timestamp: ts})
	}
	return msgs, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts epoch milliseconds or one of timestampLayouts.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
