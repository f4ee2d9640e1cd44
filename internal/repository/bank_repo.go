package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
)

// StoredBank is a discovered bank as persisted across scans.
type StoredBank struct {
	domain.DiscoveredBank
	FirstSeenAt time.Time `json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type BankRepo struct {
	db *sql.DB
}

func NewBankRepo(db *sql.DB) *BankRepo {
	return &BankRepo{db: db}
}

func discoveredKey(b domain.DiscoveredBank) string {
	if b.BankCode != nil {
		return "bank:" + *b.BankCode
	}
	return "sender:" + bankdir.NormalizeSender(b.PrimarySenderID)
}

// MergeDiscovered folds one scan's results into long-lived storage. Sender
// ids are unioned, the larger transaction count and the later timestamp are
// kept, and the first-seen time never changes. It returns how many banks were
// seen for the first time.
func (r *BankRepo) MergeDiscovered(ctx context.Context, banks []domain.DiscoveredBank, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	created := 0
	for _, b := range banks {
		key := discoveredKey(b)
		existing, err := getStoredBank(ctx, tx, key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created++
			if err := upsertBank(ctx, tx, key, b, now, now); err != nil {
				return 0, err
			}
		case err != nil:
			return 0, fmt.Errorf("load %s: %w", key, err)
		default:
			merged := mergeBank(existing.DiscoveredBank, b)
			if err := upsertBank(ctx, tx, key, merged, existing.FirstSeenAt, now); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func mergeBank(old, cur domain.DiscoveredBank) domain.DiscoveredBank {
	out := cur
	out.SenderIDs = union(old.SenderIDs, cur.SenderIDs)
	out.NewSenderIDs = union(old.NewSenderIDs, cur.NewSenderIDs)
	if old.TransactionCount > cur.TransactionCount {
		out.TransactionCount = old.TransactionCount
	}
	if old.LastTransactionTimestamp.After(cur.LastTransactionTimestamp) {
		out.LastTransactionTimestamp = old.LastTransactionTimestamp
		out.SampleMessage = old.SampleMessage
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func upsertBank(ctx context.Context, tx *sql.Tx, key string, b domain.DiscoveredBank, firstSeen, now time.Time) error {
	ids, err := json.Marshal(nonNil(b.SenderIDs))
	if err != nil {
		return fmt.Errorf("marshal sender ids: %w", err)
	}
	newIDs, err := json.Marshal(nonNil(b.NewSenderIDs))
	if err != nil {
		return fmt.Errorf("marshal new sender ids: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO discovered_banks
		(id, bank_code, bank_name, primary_sender_id, sender_ids, new_sender_ids,
		 transaction_count, sample_message, last_transaction_at, is_known, first_seen_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			bank_name = excluded.bank_name,
			primary_sender_id = excluded.primary_sender_id,
			sender_ids = excluded.sender_ids,
			new_sender_ids = excluded.new_sender_ids,
			transaction_count = excluded.transaction_count,
			sample_message = excluded.sample_message,
			last_transaction_at = excluded.last_transaction_at,
			is_known = excluded.is_known,
			updated_at = excluded.updated_at`,
		key, nullableString(b.BankCode), b.BankName, b.PrimarySenderID, string(ids), string(newIDs),
		b.TransactionCount, b.SampleMessage, formatTime(b.LastTransactionTimestamp),
		boolInt(b.IsKnownBank), formatTime(firstSeen), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

const bankColumns = `bank_code, bank_name, primary_sender_id, sender_ids, new_sender_ids,
	transaction_count, sample_message, last_transaction_at, is_known, first_seen_at, updated_at`

func getStoredBank(ctx context.Context, tx *sql.Tx, key string) (*StoredBank, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+bankColumns+" FROM discovered_banks WHERE id = ?", key)
	return scanStoredBank(row)
}

// List returns persisted banks, known banks first, then by transaction count.
func (r *BankRepo) List(ctx context.Context) ([]StoredBank, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+bankColumns+" FROM discovered_banks ORDER BY is_known DESC, transaction_count DESC, bank_name",
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []StoredBank{}
	for rows.Next() {
		b, err := scanStoredBank(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanStoredBank(s scanner) (*StoredBank, error) {
	var b StoredBank
	var code sql.NullString
	var ids, newIDs, last, first, updated string
	var known int
	err := s.Scan(&code, &b.BankName, &b.PrimarySenderID, &ids, &newIDs,
		&b.TransactionCount, &b.SampleMessage, &last, &known, &first, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &b.SenderIDs); err != nil {
		return nil, fmt.Errorf("decode sender ids: %w", err)
	}
	if err := json.Unmarshal([]byte(newIDs), &b.NewSenderIDs); err != nil {
		return nil, fmt.Errorf("decode new sender ids: %w", err)
	}
	b.BankCode = stringPtr(code)
	b.IsKnownBank = known != 0
	b.LastTransactionTimestamp = parseTime(last)
	b.FirstSeenAt = parseTime(first)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
