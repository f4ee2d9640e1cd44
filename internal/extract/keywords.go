package extract

import (
	"regexp"

	"github.com/kharcha/reconciler/internal/currency"
)

// exclusionRe matches phrases that mark a message as non-transactional even
// when it quotes an amount: OTPs, mandate and auto-pay setup, reminders,
// due-date notices and marketing.
var exclusionRe = regexp.MustCompile(`(?i)\b(?:` +
	`otp|one[\s-]?time\s+password|verification\s+code|` +
	`auto[\s-]?(?:pay|debit)\s+(?:for|request|set\s*up|setup|registered|registration|enabled|activated|created|cancel(?:led)?|revoked)|e-?mandate|mandate|standing\s+instruction|si\s+(?:registered|setup|cancelled)|` +
	`will\s+be\s+(?:debited|deducted|charged|activated|credited)|` +
	`reminder|due\s+date|is\s+due|due\s+on|payment\s+due|min(?:imum)?\s+(?:amount\s+)?due|` +
	`offers?|reward\s+points?|rewards|cashback\s+offer|kyc|pre-?approved|congratulations|click\s+(?:here\s+)?to\s+(?:apply|avail|claim|get)|apply\s+now|` +
	`limit\s+(?:has\s+been\s+)?(?:increased|enhanced)|statement\s+(?:is\s+)?generated|bill\s+(?:is\s+)?generated` +
	`)\b`)

var (
	debitKeywordRe = regexp.MustCompile(`(?i)\b(?:debited|spent|paid|purchased?|withdrawn|payment|transferred|sent|deducted|charged)\b`)

	creditKeywordRe = regexp.MustCompile(`(?i)\b(?:credited|received|deposited|refund(?:ed)?|cashback|added|transfer\s+from)\b`)

	currencyAmountRe = regexp.MustCompile(`(?i)` + currency.SymbolPattern + `\s*` + currency.NumberPattern)

	accountTokenRe = regexp.MustCompile(`(?i)\b(?:a/c|acct|account|card)\b|[x*]{2,}\d{3,4}\b`)
)

// IsExcluded reports whether body carries a non-transactional marker.
func IsExcluded(body string) bool {
	return exclusionRe.MatchString(body)
}

// HasDebitKeyword reports whether body contains a debit verb.
func HasDebitKeyword(body string) bool {
	return debitKeywordRe.MatchString(body)
}

// HasCreditKeyword reports whether body contains a credit verb.
func HasCreditKeyword(body string) bool {
	return creditKeywordRe.MatchString(body)
}

// LooksFinancial is the loose pre-filter used by discovery: a currency
// amount plus either a direction keyword or an account reference. It does
// not apply the exclusion list.
func LooksFinancial(body string) bool {
	if !currencyAmountRe.MatchString(body) {
		return false
	}
	return HasDebitKeyword(body) || HasCreditKeyword(body) || accountTokenRe.MatchString(body)
}
