package ingestion

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kharcha/reconciler/internal/domain"
)

// smsBackup mirrors the XML written by Android "SMS Backup & Restore".
type smsBackup struct {
	XMLName  xml.Name    `xml:"smses"`
	Messages []smsRecord `xml:"sms"`
}

type smsRecord struct {
	Address string `xml:"address,attr"`
	Body    string `xml:"body,attr"`
	Date    string `xml:"date,attr"`
	Type    string `xml:"type,attr"`
}

// smsTypeInbox marks received messages; sent and draft messages are skipped.
const smsTypeInbox = "1"

// ParseXMLCorpus parses an SMS backup XML file, keeping inbox messages only.
func ParseXMLCorpus(data []byte) ([]domain.Message, error) {
	var backup smsBackup
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&backup); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	msgs := make([]domain.Message, 0, len(backup.Messages))
	for i, r := range backup.Messages {
		if r.Type != "" && r.Type != smsTypeInbox {
			continue
		}
		sender := strings.TrimSpace(r.Address)
		body := strings.TrimSpace(r.Body)
		if sender == "" || body == "" {
			continue
		}
		ts, err := parseTimestamp(r.Date)
		if err != nil {
			return nil, fmt.Errorf("sms %d date: %w", i, err)
		}
		msgs = append(msgs, domain.Message{SenderID: sender, Body: body, Timestamp: ts})
	}
	return msgs, nil
}
