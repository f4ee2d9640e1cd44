// Package discovery scans a message corpus for senders that look like banks.
package discovery

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/logger"
)

// DefaultEmitEvery is the progress cadence when none is configured.
const DefaultEmitEvery = 500

// minUnknownCount is the noise threshold for senders the directory does not
// know.
const minUnknownCount = 2

// Scanner groups financial-looking messages by sender.
type Scanner struct {
	dir       *bankdir.Directory
	emitEvery int
	log       zerolog.Logger
}

// New returns a Scanner that emits a partial result every emitEvery scanned
// messages.
func New(dir *bankdir.Directory, emitEvery int, log zerolog.Logger) *Scanner {
	if dir == nil {
		dir = bankdir.Default()
	}
	if emitEvery <= 0 {
		emitEvery = DefaultEmitEvery
	}
	return &Scanner{dir: dir, emitEvery: emitEvery, log: logger.Component(log, "discovery")}
}

// Discover consumes in until it is closed and streams cumulative snapshots.
// The last value sent has IsComplete set. If ctx is cancelled the stream ends
// without a complete snapshot; snapshots already received stay valid. The
// returned channel is always closed.
func (s *Scanner) Discover(ctx context.Context, in <-chan domain.Message) <-chan domain.DiscoveryResult {
	out := make(chan domain.DiscoveryResult, 1)

	go func() {
		defer close(out)
		acc := newAccumulator()

		send := func(r domain.DiscoveryResult) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				s.log.Info().Int("scanned", acc.scanned).Msg("discovery cancelled")
				return
			case m, ok := <-in:
				if !ok {
					if ctx.Err() != nil {
						return
					}
					r := acc.snapshot(s.dir, true)
					s.log.Info().
						Int("scanned", r.ScannedCount).
						Int("financial", r.FinancialCount).
						Int("banks", len(r.DetectedBanks)).
						Int("unknown", len(r.UnknownSenders)).
						Msg("discovery complete")
					send(r)
					return
				}
				acc.add(m)
				if acc.scanned%s.emitEvery == 0 {
					s.log.Debug().Int("scanned", acc.scanned).Msg("discovery progress")
					if !send(acc.snapshot(s.dir, false)) {
						return
					}
				}
			}
		}
	}()

	return out
}

// Scan runs Discover over an in-memory corpus and returns the final result.
// On cancellation it returns the last partial snapshot and ctx.Err().
func (s *Scanner) Scan(ctx context.Context, msgs []domain.Message) (domain.DiscoveryResult, error) {
	in := make(chan domain.Message)
	go func() {
		defer close(in)
		for _, m := range msgs {
			select {
			case in <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var last domain.DiscoveryResult
	for r := range s.Discover(ctx, in) {
		last = r
	}
	if !last.IsComplete {
		if err := ctx.Err(); err != nil {
			return last, err
		}
	}
	return last, nil
}

type bucket struct {
	rawCounts map[string]int
	count     int
	sample    string
	last      time.Time
}

type accumulator struct {
	scanned   int
	financial int
	buckets   map[string]*bucket
}

func newAccumulator() *accumulator {
	return &accumulator{buckets: make(map[string]*bucket)}
}

func (a *accumulator) add(m domain.Message) {
	a.scanned++
	if !extract.LooksFinancial(m.Body) {
		return
	}
	key := bankdir.NormalizeSender(m.SenderID)
	if key == "" {
		return
	}
	a.financial++

	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{rawCounts: make(map[string]int)}
		a.buckets[key] = b
	}
	raw := strings.ToUpper(strings.TrimSpace(m.SenderID))
	b.rawCounts[raw]++
	b.count++
	if b.sample == "" || !m.Timestamp.Before(b.last) {
		b.sample = m.Body
		b.last = m.Timestamp
	}
}

type group struct {
	bank      *bankdir.Bank
	key       string
	rawCounts map[string]int
	count     int
	sample    string
	last      time.Time
}

func (g *group) merge(b *bucket) {
	for id, n := range b.rawCounts {
		g.rawCounts[id] += n
	}
	g.count += b.count
	if g.sample == "" || b.last.After(g.last) {
		g.sample = b.sample
		g.last = b.last
	}
}

// snapshot builds a result that shares no memory with the accumulator.
func (a *accumulator) snapshot(dir *bankdir.Directory, complete bool) domain.DiscoveryResult {
	known := make(map[string]*group)
	var unknown []*group

	for key, b := range a.buckets {
		if bank, ok := dir.FindBySender(key); ok {
			g, exists := known[bank.Code]
			if !exists {
				bk := bank
				g = &group{bank: &bk, key: bank.Code, rawCounts: make(map[string]int)}
				known[bank.Code] = g
			}
			g.merge(b)
			continue
		}
		if b.count < minUnknownCount {
			continue
		}
		g := &group{key: key, rawCounts: make(map[string]int)}
		g.merge(b)
		unknown = append(unknown, g)
	}

	res := domain.DiscoveryResult{
		ScannedCount:   a.scanned,
		FinancialCount: a.financial,
		DetectedBanks:  []domain.DiscoveredBank{},
		UnknownSenders: []domain.DiscoveredBank{},
		IsComplete:     complete,
	}
	for _, g := range known {
		res.DetectedBanks = append(res.DetectedBanks, g.toDiscovered(dir))
	}
	for _, g := range unknown {
		res.UnknownSenders = append(res.UnknownSenders, g.toDiscovered(dir))
	}
	sortByCount(res.DetectedBanks)
	sortByCount(res.UnknownSenders)
	return res
}

func (g *group) toDiscovered(dir *bankdir.Directory) domain.DiscoveredBank {
	ids := make([]string, 0, len(g.rawCounts))
	for id := range g.rawCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	primary := ids[0]
	for _, id := range ids[1:] {
		if g.rawCounts[id] > g.rawCounts[primary] {
			primary = id
		}
	}

	d := domain.DiscoveredBank{
		SenderIDs:                ids,
		PrimarySenderID:          primary,
		NewSenderIDs:             []string{},
		TransactionCount:         g.count,
		SampleMessage:            g.sample,
		LastTransactionTimestamp: g.last,
	}

	if g.bank == nil {
		d.BankName = InferDisplayName(g.key)
		d.NewSenderIDs = append(d.NewSenderIDs, ids...)
		return d
	}

	code := g.bank.Code
	d.BankCode = &code
	d.BankName = g.bank.Name
	d.IsKnownBank = true
	for _, id := range ids {
		if !dir.IsKnownPattern(code, id) {
			d.NewSenderIDs = append(d.NewSenderIDs, id)
		}
	}
	return d
}

func sortByCount(banks []domain.DiscoveredBank) {
	sort.SliceStable(banks, func(i, j int) bool {
		if banks[i].TransactionCount != banks[j].TransactionCount {
			return banks[i].TransactionCount > banks[j].TransactionCount
		}
		if banks[i].BankName != banks[j].BankName {
			return banks[i].BankName < banks[j].BankName
		}
		return banks[i].PrimarySenderID < banks[j].PrimarySenderID
	})
}

var (
	digitsRe      = regexp.MustCompile(`[0-9]+`)
	boilerplateRe = regexp.MustCompile(`(?:INB|SMS|ALRT|ALERT|TXN)$`)
	bankSuffixRe  = regexp.MustCompile(`(?:BANK|BNK|BK)$`)
)

// InferDisplayName guesses a readable name for an unknown sender, e.g.
// "VM-XYZBNK" becomes "XYZ Bank" and "ABCSMS1" becomes "ABC".
func InferDisplayName(sender string) string {
	s := digitsRe.ReplaceAllString(bankdir.NormalizeSender(sender), "")
	fallback := s
	for {
		t := boilerplateRe.ReplaceAllString(s, "")
		if t == s || t == "" {
			break
		}
		s = t
	}
	suffix := ""
	if t := bankSuffixRe.ReplaceAllString(s, ""); t != s && t != "" {
		s, suffix = t, " Bank"
	}
	if s == "" {
		return fallback
	}
	return s + suffix
}
