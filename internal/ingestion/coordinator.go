package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/logger"
	"github.com/kharcha/reconciler/internal/matching"
	"github.com/kharcha/reconciler/internal/reconciliation"
	"github.com/kharcha/reconciler/internal/repository"
)

// TransactionStore is the slice of the transaction repository the
// coordinator needs.
type TransactionStore interface {
	ExistsByReference(ctx context.Context, ref string) (bool, error)
	ExistsInWindow(ctx context.Context, senderKey string, amount decimal.Decimal, from, to time.Time) (bool, error)
	FindRecurringInstance(ctx context.Context, recurringID string, from, to time.Time) (*domain.Transaction, error)
	MergeSMSMetadata(ctx context.Context, id string, meta domain.SMSMetadata) error
	Insert(ctx context.Context, tx *domain.Transaction, balanceDelta decimal.Decimal) error
}

type AccountStore interface {
	ListLinked(ctx context.Context) ([]domain.Account, error)
}

type RecurringStore interface {
	ListActive(ctx context.Context, accountID string) ([]domain.RecurringTemplate, error)
	AdvanceDueDate(ctx context.Context, id string, next time.Time) error
}

// FallbackEnqueuer hands messages the pattern extractor could not parse to
// a slower parser. It must not block.
type FallbackEnqueuer interface {
	Enqueue(msg domain.Message) (string, error)
}

type Outcome string

const (
	OutcomeInserted       Outcome = "inserted"
	OutcomeMerged         Outcome = "merged"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeNotTransaction Outcome = "not_transaction"
	OutcomeFailed         Outcome = "failed"
)

// Decision is the result of ingesting one message.
type Decision struct {
	Outcome       Outcome                   `json:"outcome"`
	Reason        string                    `json:"reason,omitempty"`
	Parsed        *domain.ParsedTransaction `json:"parsed,omitempty"`
	Transaction   *domain.Transaction       `json:"transaction,omitempty"`
	BalanceDelta  decimal.Decimal           `json:"balance_delta"`
	Match         *domain.MatchResult       `json:"match,omitempty"`
	RecurringID   *string                   `json:"recurring_id,omitempty"`
	FallbackJobID string                    `json:"fallback_job_id,omitempty"`
	Err           error                     `json:"-"`
}

// BatchResult summarises ProcessBatch.
type BatchResult struct {
	Processed       int        `json:"processed"`
	Inserted        int        `json:"inserted"`
	Merged          int        `json:"merged"`
	Duplicates      int        `json:"duplicates"`
	NotTransactions int        `json:"not_transactions"`
	Failed          int        `json:"failed"`
	Decisions       []Decision `json:"decisions,omitempty"`
}

func (b *BatchResult) add(d Decision) {
	b.Processed++
	switch d.Outcome {
	case OutcomeInserted:
		b.Inserted++
	case OutcomeMerged:
		b.Merged++
	case OutcomeDuplicate:
		b.Duplicates++
	case OutcomeNotTransaction:
		b.NotTransactions++
	case OutcomeFailed:
		b.Failed++
	}
	b.Decisions = append(b.Decisions, d)
}

// Options tunes duplicate suppression and account acceptance.
type Options struct {
	DuplicateWindow time.Duration
	MinAccountScore int
}

// Deps are the collaborators of a Coordinator. Fallback may be nil.
type Deps struct {
	Extractor    *extract.Extractor
	Matcher      *matching.Matcher
	Correlator   *reconciliation.Correlator
	Transactions TransactionStore
	Accounts     AccountStore
	Recurring    RecurringStore
	Fallback     FallbackEnqueuer
}

// Coordinator decides, per message, whether to insert a transaction, merge
// it into a recurring instance, or drop it.
type Coordinator struct {
	deps  Deps
	opts  Options
	locks *keyedMutex
	log   zerolog.Logger
	now   func() time.Time
}

func NewCoordinator(deps Deps, opts Options, log zerolog.Logger) *Coordinator {
	if deps.Extractor == nil {
		deps.Extractor = extract.New(nil)
	}
	if deps.Matcher == nil {
		deps.Matcher = matching.New(nil)
	}
	if deps.Correlator == nil {
		deps.Correlator = reconciliation.NewCorrelator(reconciliation.DefaultTolerance, reconciliation.DefaultWindow)
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 24 * time.Hour
	}
	if opts.MinAccountScore <= 0 {
		opts.MinAccountScore = matching.MediumThreshold
	}
	return &Coordinator{
		deps:  deps,
		opts:  opts,
		locks: newKeyedMutex(),
		log:   logger.Component(log, "ingestion"),
		now:   time.Now,
	}
}

// Process extracts and ingests one message. It never panics and never
// returns an error; failures are reported as OutcomeFailed.
func (c *Coordinator) Process(ctx context.Context, msg domain.Message) (d Decision) {
	defer c.recoverInto(&d, msg)

	p, reason := c.deps.Extractor.Extract(msg.Body, msg.SenderID)
	if p == nil {
		d = Decision{Outcome: OutcomeNotTransaction, Reason: string(reason)}
		if id := c.maybeFallback(msg, reason); id != "" {
			d.FallbackJobID = id
		}
		return d
	}
	return c.ProcessParsed(ctx, msg, *p)
}

// ProcessParsed ingests an already parsed transaction. The fallback parser
// calls it directly so that its results go through the same duplicate
// checks.
func (c *Coordinator) ProcessParsed(ctx context.Context, msg domain.Message, p domain.ParsedTransaction) (d Decision) {
	defer c.recoverInto(&d, msg)

	if !p.Amount.IsPositive() {
		return Decision{Outcome: OutcomeNotTransaction, Reason: string(extract.RejectNoAmount)}
	}
	if p.OriginalMessage == "" {
		p.OriginalMessage = msg.Body
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	senderKey := bankdir.NormalizeSender(msg.SenderID)
	log := c.log.With().Str("sender", msg.SenderID).Str("amount", p.Amount.StringFixed(2)).Logger()

	unlock := c.locks.Lock("sender:" + senderKey)
	defer unlock()

	if p.ReferenceNumber != nil && *p.ReferenceNumber != "" {
		dup, err := c.deps.Transactions.ExistsByReference(ctx, *p.ReferenceNumber)
		if err != nil {
			return c.fail(log, &p, "reference lookup", err)
		}
		if dup {
			log.Debug().Str("reference", *p.ReferenceNumber).Msg("duplicate by reference")
			return Decision{Outcome: OutcomeDuplicate, Reason: "reference", Parsed: &p}
		}
	}

	w := c.opts.DuplicateWindow
	dup, err := c.deps.Transactions.ExistsInWindow(ctx, senderKey, p.Amount, ts.Add(-w), ts.Add(w))
	if err != nil {
		return c.fail(log, &p, "window lookup", err)
	}
	if dup {
		log.Debug().Msg("duplicate within window")
		return Decision{Outcome: OutcomeDuplicate, Reason: "window", Parsed: &p}
	}

	accounts, err := c.deps.Accounts.ListLinked(ctx)
	if err != nil {
		return c.fail(log, &p, "list accounts", err)
	}
	match := c.deps.Matcher.FindMatchingAccount(p, msg.SenderID, accounts)

	var accountID *string
	if exact, ok := exactAccount(p, accounts); ok {
		accountID = &exact.ID
	} else if match.MatchedAccountID != nil && match.TopScore() >= c.opts.MinAccountScore {
		accountID = match.MatchedAccountID
	}

	tx := newTransaction(msg, p, senderKey, ts, accountID)
	delta := p.SignedAmount()

	if accountID == nil {
		return c.insert(ctx, log, tx, decimal.Zero, &p, &match)
	}

	unlockAccount := c.locks.Lock("account:" + *accountID)
	defer unlockAccount()

	templates, err := c.deps.Recurring.ListActive(ctx, *accountID)
	if err != nil {
		return c.fail(log, &p, "list recurring", err)
	}
	rm, ok := c.deps.Correlator.Match(templates, p, ts)
	if !ok {
		return c.insert(ctx, log, tx, delta, &p, &match)
	}

	rw := c.deps.Correlator.Window()
	existing, err := c.deps.Transactions.FindRecurringInstance(ctx, rm.Template.ID, ts.Add(-rw), ts.Add(rw))
	switch {
	case err == nil:
		if err := c.deps.Transactions.MergeSMSMetadata(ctx, existing.ID, metadataOf(msg, p, senderKey)); err != nil {
			return c.fail(log, &p, "merge", err)
		}
		log.Info().Str("transaction", existing.ID).Str("recurring", rm.Template.ID).Msg("merged into recurring instance")
		id := rm.Template.ID
		return Decision{Outcome: OutcomeMerged, Reason: "recurring", Parsed: &p, Transaction: existing, Match: &match, RecurringID: &id}
	case !errors.Is(err, repository.ErrNotFound):
		return c.fail(log, &p, "find recurring instance", err)
	}

	id := rm.Template.ID
	tx.RecurringID = &id
	d = c.insert(ctx, log, tx, delta, &p, &match)
	if d.Outcome != OutcomeInserted {
		return d
	}
	d.RecurringID = &id
	log.Info().Str("recurring", id).Float64("confidence", rm.Confidence).Msg("recurring instance recorded")

	if rm.DueDate.Equal(rm.Template.NextDueDate) {
		next := rm.Template.FollowingDueDate()
		if err := c.deps.Recurring.AdvanceDueDate(ctx, id, next); err != nil {
			log.Warn().Err(err).Str("recurring", id).Msg("advance due date failed")
		}
	}
	return d
}

// ProcessBatch ingests msgs oldest first so that duplicate windows and
// recurring correlation see earlier messages before later ones. A failure
// on one message does not stop the batch; cancellation does.
func (c *Coordinator) ProcessBatch(ctx context.Context, msgs []domain.Message) BatchResult {
	ordered := make([]domain.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var res BatchResult
	for _, m := range ordered {
		if ctx.Err() != nil {
			c.log.Warn().Int("processed", res.Processed).Int("remaining", len(ordered)-res.Processed).Msg("batch cancelled")
			break
		}
		res.add(c.Process(ctx, m))
	}
	c.log.Info().
		Int("processed", res.Processed).
		Int("inserted", res.Inserted).
		Int("merged", res.Merged).
		Int("duplicates", res.Duplicates).
		Int("failed", res.Failed).
		Msg("batch ingested")
	return res
}

func (c *Coordinator) insert(ctx context.Context, log zerolog.Logger, tx *domain.Transaction, delta decimal.Decimal, p *domain.ParsedTransaction, match *domain.MatchResult) Decision {
	if err := c.deps.Transactions.Insert(ctx, tx, delta); err != nil {
		return c.fail(log, p, "insert", err)
	}
	log.Debug().Str("transaction", tx.ID).Str("category", tx.Category).Msg("transaction inserted")
	d := Decision{Outcome: OutcomeInserted, Parsed: p, Transaction: tx, Match: match}
	if tx.AccountID != nil {
		d.BalanceDelta = delta
	}
	return d
}

func (c *Coordinator) fail(log zerolog.Logger, p *domain.ParsedTransaction, op string, err error) Decision {
	reason := op
	if errors.Is(err, repository.ErrConflict) {
		reason = op + ": conflict"
	}
	log.Warn().Err(err).Str("op", op).Msg("ingestion failed")
	return Decision{Outcome: OutcomeFailed, Reason: reason, Parsed: p, Err: fmt.Errorf("%s: %w", op, err)}
}

func (c *Coordinator) recoverInto(d *Decision, msg domain.Message) {
	if r := recover(); r != nil {
		c.log.Error().Interface("panic", r).Str("sender", msg.SenderID).Msg("recovered while ingesting message")
		*d = Decision{Outcome: OutcomeFailed, Reason: "panic", Err: fmt.Errorf("panic: %v", r)}
	}
}

// maybeFallback queues messages that failed the keyword or amount stage but
// still look financial. Excluded messages are never retried.
func (c *Coordinator) maybeFallback(msg domain.Message, reason extract.RejectReason) string {
	if c.deps.Fallback == nil {
		return ""
	}
	if reason != extract.RejectNoKeyword && reason != extract.RejectNoAmount {
		return ""
	}
	if !extract.LooksFinancial(msg.Body) {
		return ""
	}
	id, err := c.deps.Fallback.Enqueue(msg)
	if err != nil {
		c.log.Warn().Err(err).Str("sender", msg.SenderID).Msg("fallback enqueue failed")
		return ""
	}
	return id
}

// exactAccount finds the linked account named by the message's bank and last
// four digits. It is attached even when its score is below MinAccountScore.
func exactAccount(p domain.ParsedTransaction, accounts []domain.Account) (domain.Account, bool) {
	if p.BankCode == nil || p.AccountHint == nil {
		return domain.Account{}, false
	}
	return matching.FindExact(accounts, *p.BankCode, *p.AccountHint)
}

func newTransaction(msg domain.Message, p domain.ParsedTransaction, senderKey string, ts time.Time, accountID *string) *domain.Transaction {
	sender, key, original := msg.SenderID, senderKey, p.OriginalMessage
	return &domain.Transaction{
		AccountID:       accountID,
		Amount:          p.Amount,
		IsDebit:         p.IsDebit,
		Category:        extract.InferCategory(p.MerchantName),
		MerchantName:    p.MerchantName,
		AccountHint:     p.AccountHint,
		BankCode:        p.BankCode,
		CardType:        p.CardType,
		UPIID:           p.UPIID,
		ReferenceNumber: p.ReferenceNumber,
		SenderName:      p.SenderName,
		ReceiverName:    p.ReceiverName,
		SMSSender:       &sender,
		SenderKey:       &key,
		OriginalMessage: &original,
		OccurredAt:      ts,
	}
}

func metadataOf(msg domain.Message, p domain.ParsedTransaction, senderKey string) domain.SMSMetadata {
	return domain.SMSMetadata{
		SMSSender:       msg.SenderID,
		SenderKey:       senderKey,
		ReferenceNumber: p.ReferenceNumber,
		UPIID:           p.UPIID,
		MerchantName:    p.MerchantName,
		SenderName:      p.SenderName,
		ReceiverName:    p.ReceiverName,
		OriginalMessage: p.OriginalMessage,
	}
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
