// Package matching scores user accounts against a parsed transaction and
// suggests a new account when nothing matches well.
package matching

import (
	"sort"
	"strings"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
)

const (
	senderWeight = 40
	bankWeight   = 30
	last4Weight  = 50
	maxScore     = 100
)

// Confidence thresholds, inclusive lower bounds.
const (
	HighThreshold   = 80
	MediumThreshold = 50
	LowThreshold    = 20
)

const defaultColor = "#607D8B"

// Matcher ranks accounts. It only reads from its directory and is safe for
// concurrent use.
type Matcher struct {
	dir *bankdir.Directory
}

// New returns a Matcher. A nil dir uses bankdir.Default().
func New(dir *bankdir.Directory) *Matcher {
	if dir == nil {
		dir = bankdir.Default()
	}
	return &Matcher{dir: dir}
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "")
}

// Score returns the additive match score of account for a message from
// senderID carrying accountHint, capped at 100.
func Score(account domain.Account, senderID string, accountHint *string) int {
	s, _ := score(account, senderID, accountHint)
	return s
}

func score(account domain.Account, senderID string, accountHint *string) (int, string) {
	sender := normalize(senderID)
	total := 0
	var reasons []string

	for _, id := range account.LinkedSenderIDs {
		if n := normalize(id); n != "" && strings.Contains(sender, n) {
			total += senderWeight
			reasons = append(reasons, "sender id "+id)
			break
		}
	}
	if account.BankCode != nil {
		if code := normalize(*account.BankCode); code != "" && strings.Contains(sender, code) {
			total += bankWeight
			reasons = append(reasons, "bank code "+code)
		}
	}
	if account.AccountNumberLast4 != nil && accountHint != nil && *account.AccountNumberLast4 == *accountHint {
		total += last4Weight
		reasons = append(reasons, "last 4 digits "+*accountHint)
	}

	if total > maxScore {
		total = maxScore
	}
	if len(reasons) == 0 {
		return 0, "no match"
	}
	return total, strings.Join(reasons, ", ")
}

// ConfidenceFor maps a score onto its tier.
func ConfidenceFor(score int) domain.Confidence {
	switch {
	case score >= HighThreshold:
		return domain.ConfidenceHigh
	case score >= MediumThreshold:
		return domain.ConfidenceMedium
	case score >= LowThreshold:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceNone
	}
}

// FindMatchingAccount scores every linked account. The top candidate is
// reported whenever it scored above zero; callers apply their own acceptance
// threshold. A suggestion is attached for LOW and NONE confidence.
func (m *Matcher) FindMatchingAccount(p domain.ParsedTransaction, senderID string, accounts []domain.Account) domain.MatchResult {
	candidates := make([]domain.AccountCandidate, 0, len(accounts))
	for _, a := range accounts {
		if !a.IsLinked {
			continue
		}
		s, reason := score(a, senderID, p.AccountHint)
		candidates = append(candidates, domain.AccountCandidate{AccountID: a.ID, Score: s, Reason: reason})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].AccountID < candidates[j].AccountID
	})

	res := domain.MatchResult{
		Confidence:    domain.ConfidenceNone,
		AllCandidates: candidates,
	}
	if top := res.TopScore(); top > 0 {
		id := candidates[0].AccountID
		res.MatchedAccountID = &id
		res.Confidence = ConfidenceFor(top)
	}
	if res.Confidence == domain.ConfidenceNone || res.Confidence == domain.ConfidenceLow {
		res.SuggestedNewAccount = m.SuggestAccount(p, senderID)
	}
	return res
}

// FindExact returns the linked account with this bank code and last 4 digits.
func FindExact(accounts []domain.Account, bankCode, last4 string) (domain.Account, bool) {
	code := normalize(bankCode)
	for _, a := range accounts {
		if !a.IsLinked || a.BankCode == nil || a.AccountNumberLast4 == nil {
			continue
		}
		if normalize(*a.BankCode) == code && *a.AccountNumberLast4 == last4 {
			return a, true
		}
	}
	return domain.Account{}, false
}

// FindByBank returns every linked account for bankCode, in input order.
func FindByBank(accounts []domain.Account, bankCode string) []domain.Account {
	code := normalize(bankCode)
	var out []domain.Account
	for _, a := range accounts {
		if a.IsLinked && a.BankCode != nil && normalize(*a.BankCode) == code {
			out = append(out, a)
		}
	}
	return out
}

// SuggestAccount builds a ready-to-create account from what the message
// revealed. The type preference is credit card, then UPI, then bank, then
// other.
func (m *Matcher) SuggestAccount(p domain.ParsedTransaction, senderID string) *domain.SuggestedAccount {
	var bank *bankdir.Bank
	if p.BankCode != nil {
		if b, ok := m.dir.ByCode(*p.BankCode); ok {
			bank = &b
		}
	}
	if bank == nil {
		if b, ok := m.dir.FindBySender(senderID); ok {
			bank = &b
		}
	}

	s := &domain.SuggestedAccount{Color: defaultColor, Last4: p.AccountHint}

	switch {
	case p.CardType != nil && *p.CardType == domain.CardCredit:
		s.Type = domain.AccountCreditCard
	case p.UPIID != nil:
		s.Type = domain.AccountUPI
	case bank != nil:
		s.Type = domain.AccountBank
	default:
		s.Type = domain.AccountOther
	}

	base := "Account"
	if bank != nil {
		code, name := bank.Code, bank.Name
		s.BankCode = &code
		s.BankName = &name
		s.SenderPatterns = append(s.SenderPatterns, bank.SenderPatterns...)
		if bank.Color != "" {
			s.Color = bank.Color
		}
		base = bank.Name
	} else if s.Type == domain.AccountUPI {
		base = "UPI"
	}

	s.Name = base + suggestionSuffix(p)

	if n := bankdir.NormalizeSender(senderID); n != "" && !contains(s.SenderPatterns, n) {
		s.SenderPatterns = append(s.SenderPatterns, n)
	}
	if s.SenderPatterns == nil {
		s.SenderPatterns = []string{}
	}
	return s
}

func suggestionSuffix(p domain.ParsedTransaction) string {
	if p.CardType != nil {
		switch *p.CardType {
		case domain.CardCredit:
			return " Credit Card"
		case domain.CardDebit:
			return " Debit Card"
		}
	}
	if p.AccountHint != nil {
		return " XX" + *p.AccountHint
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
