package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/currency"
	"github.com/kharcha/reconciler/internal/domain"
)

// A matcher pulls one field out of a message body. Matchers are pure and are
// tried in order; the first one that returns ok wins.
type matcher func(body string) (string, bool)

func firstMatch(body string, chain []matcher) (string, bool) {
	for _, m := range chain {
		if v, ok := m(body); ok {
			return v, true
		}
	}
	return "", false
}

// capture builds a matcher returning the first submatch of the leftmost
// occurrence of re that passes every check. Later occurrences are tried when
// an earlier one is rejected.
func capture(re *regexp.Regexp, checks ...func(string) bool) matcher {
	return func(body string) (string, bool) {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			v := cleanValue(m[1])
			if v == "" || !passes(v, checks) {
				continue
			}
			return v, true
		}
		return "", false
	}
}

func passes(v string, checks []func(string) bool) bool {
	for _, c := range checks {
		if !c(v) {
			return false
		}
	}
	return true
}

var spaceRun = regexp.MustCompile(`\s+`)

func cleanValue(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, " .,;:-_/*'()")
}

// Amount.

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + currency.SymbolPattern + `\s*` + currency.NumberPattern),
	regexp.MustCompile(`(?i)\b(?:debited|credited)\s+(?:by|for|with)\s+` + currency.SymbolPattern + `?\s*` + currency.NumberPattern),
	regexp.MustCompile(`(?i)\b(?:amount|amt)\.?\s*(?:of\s+)?[:=]?\s*` + currency.SymbolPattern + `?\s*` + currency.NumberPattern),
}

// extractAmount tries each pattern's first occurrence in order and returns
// the first positive value.
func extractAmount(body string) (decimal.Decimal, bool) {
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		if d, ok := currency.ParsePositive(m[1]); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Merchant.

const maxMerchantLen = 50

var merchantChain = []matcher{
	// "to ZOMATO LTD zomato@hdfcbank", "at SWIGGY (VPA swiggy@icici)"
	capture(regexp.MustCompile(`(?i)\b(?:to|at)\s+([A-Za-z][A-Za-z0-9 .&'-]{1,48}?)\s+\(?\s*(?:vpa\s+|upi\s*(?:id)?\s*[:-]?\s*)?[A-Za-z0-9._-]+@[A-Za-z]{2,64}`), plausibleName),
	capture(regexp.MustCompile(`(?i)\b(?:at|to|for)\s+([A-Za-z0-9][A-Za-z0-9 .&'*_-]{0,60}?)(?:\s+(?:on|via|ref|refno|upi|avl|avbl|using|from|with|for|thru|through|is|was|txn|dated)\b|\.\s*(?:avl|avbl|bal|available)\b|[,;:(]|\.(?:\s|$)|\s*$)`), plausibleName),
	capture(regexp.MustCompile(`(?i)\binfo\s*[:-]\s*([^\n;]{2,60}?)(?:\.\s|[;\n]|\s*$)`), plausibleName),
	capture(regexp.MustCompile(`(?i)\bpayee\s*(?:name)?\s*[:-]?\s*([A-Za-z0-9][^.,;\n]{1,60})`), plausibleName),
}

var (
	maskedOrNumeric = regexp.MustCompile(`(?i)^(?:[x*]+\d*|[\d\s.,:/-]+)$`)

	nameStopwords = map[string]bool{
		"a": true, "ac": true, "a/c": true, "acct": true, "account": true,
		"your": true, "you": true, "the": true, "card": true, "rs": true,
		"inr": true, "upi": true, "vpa": true, "ref": true, "xx": true,
		"mobile": true, "beneficiary": true, "self": true, "bank": true,
	}
)

// plausibleName rejects captures that are really currency markers, masked
// account numbers or filler words.
func plausibleName(v string) bool {
	if len(v) < 2 || maskedOrNumeric.MatchString(v) {
		return false
	}
	first := strings.ToLower(strings.Fields(v)[0])
	first = strings.TrimRight(first, ".:")
	return !nameStopwords[first]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

func extractMerchant(body string) (string, bool) {
	v, ok := firstMatch(body, merchantChain)
	if !ok {
		return "", false
	}
	return truncate(v, maxMerchantLen), true
}

// Account hint.

var accountHintChain = []matcher{
	capture(regexp.MustCompile(`(?i)\b(?:a/c|acct|account|ac)(?:\s*(?:no\.?|number|ending(?:\s+(?:with|in))?))?\s*[:.]?\s*[x*0-9]*(\d{4})\b`)),
	capture(regexp.MustCompile(`(?i)\bcard\s+(?:no\.?\s*)?(?:ending(?:\s+(?:with|in))?\s*)?[x*0-9]*(\d{4})\b`)),
	capture(regexp.MustCompile(`(?i)\b[x]{2,}(\d{4})\b`)),
	capture(regexp.MustCompile(`\*{2,}(\d{4})\b`)),
}

// Card type.

var (
	creditCardRe  = regexp.MustCompile(`(?i)\b(?:credit\s+card|cc)\b`)
	debitCardRe   = regexp.MustCompile(`(?i)\b(?:debit\s+card|atm\s+card|atm)\b`)
	prepaidCardRe = regexp.MustCompile(`(?i)\bprepaid\b`)
	anyCardRe     = regexp.MustCompile(`(?i)\bcard\b`)
)

func extractCardType(body string) (domain.CardType, bool) {
	switch {
	case creditCardRe.MatchString(body):
		return domain.CardCredit, true
	case debitCardRe.MatchString(body):
		return domain.CardDebit, true
	case prepaidCardRe.MatchString(body):
		return domain.CardPrepaid, true
	case anyCardRe.MatchString(body):
		return domain.CardUnknown, true
	}
	return "", false
}

// UPI id.

var (
	labelledUPIRe = regexp.MustCompile(`(?i)\b(?:upi|vpa)\s*(?:id)?\s*[:-]?\s*([a-zA-Z0-9][a-zA-Z0-9._-]{1,255}@[a-zA-Z]{2,64})\b`)
	// The trailing group catches e-mail addresses so they can be skipped.
	handleRe = regexp.MustCompile(`\b([a-zA-Z0-9][a-zA-Z0-9._-]{1,255}@[a-zA-Z]{2,64})(\.[a-zA-Z]{2,})?`)
)

var upiChain = []matcher{
	capture(labelledUPIRe),
	func(body string) (string, bool) {
		for _, m := range handleRe.FindAllStringSubmatch(body, -1) {
			if m[2] != "" {
				continue
			}
			return m[1], true
		}
		return "", false
	},
}

// Reference number.

var referenceChain = []matcher{
	capture(regexp.MustCompile(`(?i)\b(?:utr|rrn)\s*(?:no\.?|number)?\s*[:.#-]?\s*([A-Za-z0-9]{6,22})\b`), hasDigit),
	capture(regexp.MustCompile(`(?i)\bref(?:erence)?\.?\s*(?:no\.?|number|id)?\s*[:.#-]?\s*([A-Za-z0-9]{6,22})\b`), hasDigit),
	capture(regexp.MustCompile(`(?i)\b(?:txn|transaction)\s*(?:id|no\.?|ref(?:erence)?|#)\s*[:.#-]?\s*([A-Za-z0-9]{6,22})\b`), hasDigit),
}

func hasDigit(v string) bool {
	return strings.ContainsAny(v, "0123456789")
}

// Counterparty names. The capture classes exclude '@' and digits, and the
// noAt check guards against handles slipping through.

var senderNameChain = []matcher{
	capture(regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z][A-Za-z .'-]{1,40}?)(?:\s+(?:on|via|ref|upi|to|in|at|a/c|acct|account|vpa|for|with)\b|[,;:(]|\.(?:\s|$)|\s*$)`), noAt, plausibleName),
}

var receiverNameChain = []matcher{
	capture(regexp.MustCompile(`(?i)\bto\s+([A-Za-z][A-Za-z .'&-]{1,40}?)(?:\s+(?:on|via|ref|upi|from|at|a/c|acct|account|vpa|using|for|with)\b|[,;:(]|\.(?:\s|$)|\s*$)`), noAt, plausibleName),
}

func noAt(v string) bool {
	return !strings.Contains(v, "@")
}
