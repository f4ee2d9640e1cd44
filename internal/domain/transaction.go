package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CardType string

const (
	CardCredit  CardType = "CREDIT"
	CardDebit   CardType = "DEBIT"
	CardPrepaid CardType = "PREPAID"
	CardUnknown CardType = "UNKNOWN"
)

// ParsedTransaction is the structured result of extracting one SMS.
// Optional fields are nil when the message did not carry them.
type ParsedTransaction struct {
	Amount          decimal.Decimal `json:"amount"`
	IsDebit         bool            `json:"is_debit"`
	MerchantName    *string         `json:"merchant_name,omitempty"`
	AccountHint     *string         `json:"account_hint,omitempty"`
	BankCode        *string         `json:"bank_code,omitempty"`
	BankName        *string         `json:"bank_name,omitempty"`
	CardType        *CardType       `json:"card_type,omitempty"`
	UPIID           *string         `json:"upi_id,omitempty"`
	ReferenceNumber *string         `json:"reference_number,omitempty"`
	SenderName      *string         `json:"sender_name,omitempty"`
	ReceiverName    *string         `json:"receiver_name,omitempty"`
	OriginalMessage string          `json:"original_message"`
}

// SignedAmount is negative for debits and positive for credits.
func (p ParsedTransaction) SignedAmount() decimal.Decimal {
	if p.IsDebit {
		return p.Amount.Neg()
	}
	return p.Amount
}

// Transaction is a stored ledger entry created from an SMS.
type Transaction struct {
	ID              string          `json:"id"`
	AccountID       *string         `json:"account_id,omitempty"`
	RecurringID     *string         `json:"recurring_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	IsDebit         bool            `json:"is_debit"`
	Category        string          `json:"category"`
	MerchantName    *string         `json:"merchant_name,omitempty"`
	AccountHint     *string         `json:"account_hint,omitempty"`
	BankCode        *string         `json:"bank_code,omitempty"`
	CardType        *CardType       `json:"card_type,omitempty"`
	UPIID           *string         `json:"upi_id,omitempty"`
	ReferenceNumber *string         `json:"reference_number,omitempty"`
	SenderName      *string         `json:"sender_name,omitempty"`
	ReceiverName    *string         `json:"receiver_name,omitempty"`
	SMSSender       *string         `json:"sms_sender,omitempty"`
	SenderKey       *string         `json:"-"`
	OriginalMessage *string         `json:"original_message,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SMSMetadata is what a merge attaches to an existing transaction.
type SMSMetadata struct {
	SMSSender       string
	SenderKey       string
	ReferenceNumber *string
	UPIID           *string
	MerchantName    *string
	SenderName      *string
	ReceiverName    *string
	OriginalMessage string
}
