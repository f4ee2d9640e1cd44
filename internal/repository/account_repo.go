package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/domain"
)

type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Create inserts an account and its linked sender ids. ID and CreatedAt are
// filled in when empty.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Type == "" {
		a.Type = domain.AccountOther
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts
		(id, name, type, is_linked, bank_code, account_number_last4, balance, color, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, string(a.Type), boolInt(a.IsLinked), nullableString(a.BankCode),
		nullableString(a.AccountNumberLast4), a.Balance.StringFixed(2), a.Color, formatTime(a.CreatedAt),
	)
	if err != nil {
		return wrapConstraint("insert account", err)
	}

	for _, sid := range a.LinkedSenderIDs {
		sid = strings.ToUpper(strings.TrimSpace(sid))
		if sid == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO account_sender_ids (account_id, sender_id) VALUES (?,?)",
			a.ID, sid,
		); err != nil {
			return fmt.Errorf("insert sender id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const accountColumns = `id, name, type, is_linked, bank_code, account_number_last4, balance, color, created_at`

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachSenderIDs(ctx, []*domain.Account{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns every account ordered by creation time.
func (r *AccountRepo) List(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, "")
}

// ListLinked returns the accounts that incoming messages may be assigned to.
func (r *AccountRepo) ListLinked(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, " WHERE is_linked = 1")
}

func (r *AccountRepo) list(ctx context.Context, where string) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts"+where+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	var ptrs []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		ptrs = append(ptrs, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.attachSenderIDs(ctx, ptrs); err != nil {
		return nil, err
	}
	out := make([]domain.Account, len(ptrs))
	for i, a := range ptrs {
		out[i] = *a
	}
	return out, nil
}

func (r *AccountRepo) attachSenderIDs(ctx context.Context, accounts []*domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Account, len(accounts))
	for _, a := range accounts {
		a.LinkedSenderIDs = []string{}
		byID[a.ID] = a
	}

	rows, err := r.db.QueryContext(ctx, "SELECT account_id, sender_id FROM account_sender_ids")
	if err != nil {
		return fmt.Errorf("query sender ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID, senderID string
		if err := rows.Scan(&accountID, &senderID); err != nil {
			return fmt.Errorf("scan sender id: %w", err)
		}
		if a, ok := byID[accountID]; ok {
			a.LinkedSenderIDs = append(a.LinkedSenderIDs, senderID)
		}
	}
	for _, a := range accounts {
		sort.Strings(a.LinkedSenderIDs)
	}
	return rows.Err()
}

// ApplyBalanceDelta adds delta to the account balance in its own transaction.
func (r *AccountRepo) ApplyBalanceDelta(ctx context.Context, id string, delta decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyBalanceDelta(ctx, tx, id, delta); err != nil {
		return err
	}
	return tx.Commit()
}

// applyBalanceDelta is a read-modify-write; callers serialise per account.
func applyBalanceDelta(ctx context.Context, tx *sql.Tx, id string, delta decimal.Decimal) error {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s: %w", id, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", raw, err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?",
		bal.Add(delta).StringFixed(2), id,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	var typ, balance, created string
	var linked int
	var bankCode, last4 sql.NullString
	if err := s.Scan(&a.ID, &a.Name, &typ, &linked, &bankCode, &last4, &balance, &a.Color, &created); err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(typ)
	a.IsLinked = linked != 0
	a.BankCode = stringPtr(bankCode)
	a.AccountNumberLast4 = stringPtr(last4)
	a.Balance, _ = decimal.NewFromString(balance)
	a.CreatedAt = parseTime(created)
	return &a, nil
}
