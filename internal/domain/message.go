package domain

import "time"

// Message is one inbound SMS as delivered by the device or a corpus import.
type Message struct {
	ID        string    `json:"id,omitempty"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// CorpusImport records an imported corpus file for idempotency.
type CorpusImport struct {
	ID           string    `json:"id"`
	Format       string    `json:"format"`
	FileHash     string    `json:"file_hash"`
	MessageCount int       `json:"message_count"`
	ImportedAt   time.Time `json:"imported_at"`
}
