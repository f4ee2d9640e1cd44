package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/kharcha/reconciler/internal/domain"
)

// ParseCSVCorpus parses a CSV export of SMS messages.
//
// Expected header (any column order, extra columns ignored):
//
//	sender_id,body,timestamp
func ParseCSVCorpus(data []byte) ([]domain.Message, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, want := range []string{"sender_id", "body", "timestamp"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing column %q", want)
		}
	}
	width := max(cols["sender_id"], cols["body"], cols["timestamp"]) + 1

	var msgs []domain.Message
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < width {
			continue
		}

		sender := strings.TrimSpace(row[cols["sender_id"]])
		body := strings.TrimSpace(row[cols["body"]])
		if sender == "" || body == "" {
			continue
		}
		ts, err := parseTimestamp(row[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d timestamp: %w", lineNum, err)
		}
		msgs = append(msgs, domain.Message{SenderID: sender, Body: body, Timestamp: ts})
	}

	return msgs, nil
}
