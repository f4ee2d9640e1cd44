package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountBank       AccountType = "BANK"
	AccountCreditCard AccountType = "CREDIT_CARD"
	AccountUPI        AccountType = "UPI"
	AccountOther      AccountType = "OTHER"
)

// Account is a user account that SMS transactions can be attached to.
type Account struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Type               AccountType     `json:"type"`
	IsLinked           bool            `json:"is_linked"`
	BankCode           *string         `json:"bank_code,omitempty"`
	AccountNumberLast4 *string         `json:"account_number_last4,omitempty"`
	LinkedSenderIDs    []string        `json:"linked_sender_ids"`
	Balance            decimal.Decimal `json:"balance"`
	Color              string          `json:"color,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

type RecurringType string

const (
	RecurringExpense RecurringType = "EXPENSE"
	RecurringIncome  RecurringType = "INCOME"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// RecurringTemplate is a user-defined expected periodic transaction.
type RecurringTemplate struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Type        RecurringType   `json:"type"`
	Frequency   Frequency       `json:"frequency"`
	NextDueDate time.Time       `json:"next_due_date"`
	IsActive    bool            `json:"is_active"`
}

// MatchesDirection reports whether a debit/credit fits the template type.
func (r RecurringTemplate) MatchesDirection(isDebit bool) bool {
	if isDebit {
		return r.Type == RecurringExpense
	}
	return r.Type == RecurringIncome
}

// PreviousDueDate steps NextDueDate back by one period.
func (r RecurringTemplate) PreviousDueDate() time.Time {
	return r.step(-1)
}

// FollowingDueDate steps NextDueDate forward by one period.
func (r RecurringTemplate) FollowingDueDate() time.Time {
	return r.step(1)
}

func (r RecurringTemplate) step(n int) time.Time {
	switch r.Frequency {
	case FrequencyDaily:
		return r.NextDueDate.AddDate(0, 0, n)
	case FrequencyWeekly:
		return r.NextDueDate.AddDate(0, 0, 7*n)
	case FrequencyQuarterly:
		return addMonths(r.NextDueDate, 3*n)
	case FrequencyYearly:
		return addMonths(r.NextDueDate, 12*n)
	default:
		return addMonths(r.NextDueDate, n)
	}
}

// addMonths moves t by n calendar months, clamping the day to the end of the
// target month so Jan 31 + 1 is Feb 29 (or 28), not Mar 2.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(d, last)-1)
}
