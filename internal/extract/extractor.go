// Package extract turns bank and payment SMS text into parsed transactions.
//
// Extraction is a fixed pipeline: exclusion filter, direction keyword gate,
// amount, direction, then best-effort secondary fields and bank enrichment.
// The first three stages can reject a message; secondary fields never do.
// Every function here is pure and safe for concurrent use.
package extract

import (
	"strings"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
)

// RejectReason explains why a message is not a transaction. The zero value
// means the message was accepted.
type RejectReason string

const (
	Accepted        RejectReason = ""
	RejectEmpty     RejectReason = "empty"
	RejectExcluded  RejectReason = "excluded"
	RejectNoKeyword RejectReason = "no_keyword"
	RejectNoAmount  RejectReason = "no_amount"
)

// Extractor holds the bank directory used for enrichment.
type Extractor struct {
	dir *bankdir.Directory
}

// New returns an extractor backed by dir. A nil dir uses bankdir.Default().
func New(dir *bankdir.Directory) *Extractor {
	if dir == nil {
		dir = bankdir.Default()
	}
	return &Extractor{dir: dir}
}

// Extract parses body sent by senderID. It returns nil and a non-empty reason
// when the message is not a transaction.
func (e *Extractor) Extract(body, senderID string) (*domain.ParsedTransaction, RejectReason) {
	if strings.TrimSpace(body) == "" {
		return nil, RejectEmpty
	}
	if IsExcluded(body) {
		return nil, RejectExcluded
	}

	debit := HasDebitKeyword(body)
	credit := HasCreditKeyword(body)
	if !debit && !credit {
		return nil, RejectNoKeyword
	}

	amount, ok := extractAmount(body)
	if !ok {
		return nil, RejectNoAmount
	}

	// Both vocabularies present: assume an expense.
	isDebit := debit || !credit

	p := &domain.ParsedTransaction{
		Amount:          amount,
		IsDebit:         isDebit,
		OriginalMessage: body,
	}

	merchant, hasMerchant := extractMerchant(body)
	if hasMerchant {
		p.MerchantName = strPtr(merchant)
	}
	if v, ok := firstMatch(body, accountHintChain); ok {
		p.AccountHint = strPtr(v)
	}
	if ct, ok := extractCardType(body); ok {
		p.CardType = &ct
	}
	if v, ok := firstMatch(body, upiChain); ok {
		p.UPIID = strPtr(v)
	}
	if v, ok := firstMatch(body, referenceChain); ok {
		p.ReferenceNumber = strPtr(strings.ToUpper(v))
	}

	if isDebit {
		if v, ok := firstMatch(body, receiverNameChain); ok {
			p.ReceiverName = strPtr(v)
		} else if hasMerchant && !strings.Contains(merchant, "@") {
			p.ReceiverName = strPtr(merchant)
		}
	} else if v, ok := firstMatch(body, senderNameChain); ok {
		p.SenderName = strPtr(v)
	}

	if b, ok := e.dir.FindBySender(senderID); ok {
		p.BankCode = strPtr(b.Code)
		p.BankName = strPtr(b.Name)
	}

	return p, Accepted
}

func strPtr(s string) *string {
	return &s
}
