package domain

import "time"

// DiscoveredBank aggregates every sender variant that resolved to one bank,
// or a single unknown sender bucket.
type DiscoveredBank struct {
	SenderIDs                []string  `json:"sender_ids"`
	PrimarySenderID          string    `json:"primary_sender_id"`
	NewSenderIDs             []string  `json:"new_sender_ids"`
	BankCode                 *string   `json:"bank_code,omitempty"`
	BankName                 string    `json:"bank_name"`
	TransactionCount         int       `json:"transaction_count"`
	SampleMessage            string    `json:"sample_message"`
	LastTransactionTimestamp time.Time `json:"last_transaction_timestamp"`
	IsKnownBank              bool      `json:"is_known_bank"`
}

// DiscoveryResult is a cumulative snapshot of a discovery scan.
type DiscoveryResult struct {
	ScannedCount   int              `json:"scanned_count"`
	FinancialCount int              `json:"financial_count"`
	DetectedBanks  []DiscoveredBank `json:"detected_banks"`
	UnknownSenders []DiscoveredBank `json:"unknown_senders"`
	IsComplete     bool             `json:"is_complete"`
}
