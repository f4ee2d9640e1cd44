// Package reconciliation correlates parsed transactions with the user's
// recurring templates.
package reconciliation

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/kharcha/reconciler/internal/currency"
	"github.com/kharcha/reconciler/internal/domain"
)

// Defaults for the correlation window and amount tolerance.
var (
	DefaultTolerance = decimal.NewFromInt(5)
	DefaultWindow    = 48 * time.Hour
)

// Match is a template that fits a parsed transaction.
type Match struct {
	Template     domain.RecurringTemplate
	DueDate      time.Time
	AmountDiff   decimal.Decimal
	DateDistance time.Duration
	NameDistance int
	Confidence   float64
}

// Correlator finds the recurring template a transaction belongs to.
type Correlator struct {
	tolerance decimal.Decimal
	window    time.Duration
}

// NewCorrelator creates a correlator. Non-positive values fall back to the
// defaults; a zero tolerance is allowed.
func NewCorrelator(tolerance decimal.Decimal, window time.Duration) *Correlator {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{tolerance: tolerance, window: window}
}

// Window is the ± range around a due date, also used to look for an
// already-recorded instance.
func (c *Correlator) Window() time.Duration {
	return c.window
}

// Match returns the best active template on which p occurring at ts fits
// both the amount tolerance and the due-date window. A template is checked
// against its next due date and the previous occurrence, so a late message
// still matches after the schedule has moved on.
//
// Ties are broken by amount difference, then distance from the due date,
// then edit distance between the counterparty and the template name.
func (c *Correlator) Match(templates []domain.RecurringTemplate, p domain.ParsedTransaction, ts time.Time) (Match, bool) {
	name := counterparty(p)
	var matches []Match

	for _, t := range templates {
		if !t.IsActive || !t.MatchesDirection(p.IsDebit) {
			continue
		}
		if !currency.WithinTolerance(p.Amount, t.Amount, c.tolerance) {
			continue
		}
		due, dist, ok := c.nearestDue(t, ts)
		if !ok {
			continue
		}
		diff := p.Amount.Sub(t.Amount).Abs()
		m := Match{
			Template:     t,
			DueDate:      due,
			AmountDiff:   diff,
			DateDistance: dist,
			NameDistance: nameDistance(name, t.Name),
		}
		m.Confidence = calculateConfidence(diff, c.tolerance, dist, c.window)
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return Match{}, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if cmp := a.AmountDiff.Cmp(b.AmountDiff); cmp != 0 {
			return cmp < 0
		}
		if a.DateDistance != b.DateDistance {
			return a.DateDistance < b.DateDistance
		}
		if a.NameDistance != b.NameDistance {
			return a.NameDistance < b.NameDistance
		}
		return a.Template.ID < b.Template.ID
	})
	return matches[0], true
}

func (c *Correlator) nearestDue(t domain.RecurringTemplate, ts time.Time) (time.Time, time.Duration, bool) {
	best, bestDist, found := time.Time{}, time.Duration(0), false
	for _, due := range []time.Time{t.NextDueDate, t.PreviousDueDate()} {
		d := absDuration(ts.Sub(due))
		if d > c.window {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = due, d, true
		}
	}
	return best, bestDist, found
}

func counterparty(p domain.ParsedTransaction) string {
	for _, s := range []*string{p.MerchantName, p.ReceiverName, p.SenderName} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return ""
}

// nameDistance is zero when no counterparty is known, so the name never
// penalises a template on its own.
func nameDistance(name, template string) int {
	if name == "" {
		return 0
	}
	return levenshtein.DistanceForStrings(
		[]rune(strings.ToLower(name)),
		[]rune(strings.ToLower(template)),
		levenshtein.DefaultOptions,
	)
}

// calculateConfidence returns a score (0-1) for how closely a transaction
// hits a template's amount and due date.
func calculateConfidence(amountDiff, tolerance decimal.Decimal, dist, window time.Duration) float64 {
	score := 1.0
	if tolerance.IsPositive() {
		ratio, _ := amountDiff.Div(tolerance).Float64()
		score -= 0.3 * ratio
	}
	if window > 0 {
		score -= 0.2 * float64(dist) / float64(window)
	}

	switch {
	case score >= 0.95:
		return 1.0
	case score >= 0.85:
		return 0.9
	case score >= 0.7:
		return 0.8
	default:
		return 0.6
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
