package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/domain"
)

type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const transactionColumns = `id, account_id, recurring_id, amount, is_debit, category,
	merchant_name, account_hint, bank_code, card_type, upi_id, reference_number,
	sender_name, receiver_name, sms_sender, sender_key, original_message,
	occurred_at, created_at`

// Insert stores tx and, when it belongs to an account, adds balanceDelta to
// that account in the same SQL transaction. A missing account or recurring
// template surfaces as ErrConflict.
func (r *TransactionRepo) Insert(ctx context.Context, tx *domain.Transaction, balanceDelta decimal.Decimal) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	var cardType any
	if tx.CardType != nil {
		cardType = string(*tx.CardType)
	}
	if tx.ReferenceNumber != nil {
		ref := strings.ToUpper(*tx.ReferenceNumber)
		tx.ReferenceNumber = &ref
	}

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, nullableString(tx.AccountID), nullableString(tx.RecurringID),
		tx.Amount.StringFixed(2), boolInt(tx.IsDebit), tx.Category,
		nullableString(tx.MerchantName), nullableString(tx.AccountHint), nullableString(tx.BankCode),
		cardType, nullableString(tx.UPIID), nullableString(tx.ReferenceNumber),
		nullableString(tx.SenderName), nullableString(tx.ReceiverName), nullableString(tx.SMSSender),
		nullableString(tx.SenderKey), nullableString(tx.OriginalMessage),
		formatTime(tx.OccurredAt), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return wrapConstraint("insert transaction", err)
	}

	if tx.AccountID != nil && !balanceDelta.IsZero() {
		if err := applyBalanceDelta(ctx, sqlTx, *tx.AccountID, balanceDelta); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return tx, err
}

// ExistsByReference reports whether any stored transaction carries ref.
func (r *TransactionRepo) ExistsByReference(ctx context.Context, ref string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE reference_number = ?", strings.ToUpper(ref),
	).Scan(&count)
	return count > 0, err
}

// ExistsInWindow reports whether the same sender already produced a
// transaction of the same amount between from and to, inclusive.
func (r *TransactionRepo) ExistsInWindow(ctx context.Context, senderKey string, amount decimal.Decimal, from, to time.Time) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		WHERE sender_key = ? AND amount = ? AND occurred_at >= ? AND occurred_at <= ?`,
		senderKey, amount.StringFixed(2), formatTime(from), formatTime(to),
	).Scan(&count)
	return count > 0, err
}

// FindRecurringInstance returns the transaction already recorded for a
// recurring template between from and to, closest to the middle of the range
// first. It returns ErrNotFound when there is none.
func (r *TransactionRepo) FindRecurringInstance(ctx context.Context, recurringID string, from, to time.Time) (*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		WHERE recurring_id = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at`,
		recurringID, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	mid := from.Add(to.Sub(from) / 2)
	var best *domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if best == nil || absDuration(tx.OccurredAt.Sub(mid)) < absDuration(best.OccurredAt.Sub(mid)) {
			best = tx
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("recurring instance %s: %w", recurringID, ErrNotFound)
	}
	return best, nil
}

// MergeSMSMetadata attaches a later message to an existing transaction. The
// sender and original text are replaced; the other fields are only filled
// where still empty.
func (r *TransactionRepo) MergeSMSMetadata(ctx context.Context, id string, m domain.SMSMetadata) error {
	var ref any
	if m.ReferenceNumber != nil {
		ref = strings.ToUpper(*m.ReferenceNumber)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET
			sms_sender = ?,
			sender_key = ?,
			original_message = ?,
			reference_number = COALESCE(reference_number, ?),
			upi_id = COALESCE(upi_id, ?),
			merchant_name = COALESCE(merchant_name, ?),
			sender_name = COALESCE(sender_name, ?),
			receiver_name = COALESCE(receiver_name, ?)
		WHERE id = ?`,
		m.SMSSender, m.SenderKey, m.OriginalMessage, ref,
		nullableString(m.UPIID), nullableString(m.MerchantName),
		nullableString(m.SenderName), nullableString(m.ReceiverName), id,
	)
	if err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return nil
}

type TransactionFilter struct {
	AccountID   string
	RecurringID string
	Category    string
	BankCode    string
	IsDebit     *bool
	From        *time.Time
	To          *time.Time
	Page        int
	Limit       int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	countSQL := "SELECT COUNT(*) FROM transactions" + where
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	querySQL := "SELECT " + transactionColumns + " FROM transactions" + where + " ORDER BY occurred_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, total, rows.Err()
}

// Summary holds aggregate spending statistics.
type Summary struct {
	Total           int             `json:"total"`
	Debits          int             `json:"debits"`
	Credits         int             `json:"credits"`
	Unassigned      int             `json:"unassigned"`
	Recurring       int             `json:"recurring"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	SpentByCategory []CategoryTotal `json:"spent_by_category"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

// GetSummary aggregates in Go because amounts are stored as exact text.
func (r *TransactionRepo) GetSummary(ctx context.Context) (*Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT amount, is_debit, category, account_id IS NULL, recurring_id IS NOT NULL FROM transactions",
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	s := &Summary{TotalSpent: decimal.Zero, TotalIncome: decimal.Zero, SpentByCategory: []CategoryTotal{}}
	byCat := map[string]int{}
	for rows.Next() {
		var amount, category string
		var debit, unassigned, recurring int
		if err := rows.Scan(&amount, &debit, &category, &unassigned, &recurring); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		d, _ := decimal.NewFromString(amount)
		s.Total++
		if unassigned != 0 {
			s.Unassigned++
		}
		if recurring != 0 {
			s.Recurring++
		}
		if debit == 0 {
			s.Credits++
			s.TotalIncome = s.TotalIncome.Add(d)
			continue
		}
		s.Debits++
		s.TotalSpent = s.TotalSpent.Add(d)
		i, ok := byCat[category]
		if !ok {
			i = len(s.SpentByCategory)
			byCat[category] = i
			s.SpentByCategory = append(s.SpentByCategory, CategoryTotal{Category: category, Amount: decimal.Zero})
		}
		s.SpentByCategory[i].Count++
		s.SpentByCategory[i].Amount = s.SpentByCategory[i].Amount.Add(d)
	}
	return s, rows.Err()
}

// --- helpers ---

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.RecurringID != "" {
		clauses = append(clauses, "recurring_id = ?")
		args = append(args, f.RecurringID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.BankCode != "" {
		clauses = append(clauses, "bank_code = ?")
		args = append(args, strings.ToUpper(f.BankCode))
	}
	if f.IsDebit != nil {
		clauses = append(clauses, "is_debit = ?")
		args = append(args, boolInt(*f.IsDebit))
	}
	if f.From != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "occurred_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount, occurredAt, createdAt string
	var debit int
	var accountID, recurringID, merchant, hint, bankCode, cardType, upi, ref,
		senderName, receiverName, smsSender, senderKey, original sql.NullString

	err := s.Scan(
		&tx.ID, &accountID, &recurringID, &amount, &debit, &tx.Category,
		&merchant, &hint, &bankCode, &cardType, &upi, &ref,
		&senderName, &receiverName, &smsSender, &senderKey, &original,
		&occurredAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, _ = decimal.NewFromString(amount)
	tx.IsDebit = debit != 0
	tx.AccountID = stringPtr(accountID)
	tx.RecurringID = stringPtr(recurringID)
	tx.MerchantName = stringPtr(merchant)
	tx.AccountHint = stringPtr(hint)
	tx.BankCode = stringPtr(bankCode)
	if cardType.Valid {
		ct := domain.CardType(cardType.String)
		tx.CardType = &ct
	}
	tx.UPIID = stringPtr(upi)
	tx.ReferenceNumber = stringPtr(ref)
	tx.SenderName = stringPtr(senderName)
	tx.ReceiverName = stringPtr(receiverName)
	tx.SMSSender = stringPtr(smsSender)
	tx.SenderKey = stringPtr(senderKey)
	tx.OriginalMessage = stringPtr(original)
	tx.OccurredAt = parseTime(occurredAt)
	tx.CreatedAt = parseTime(createdAt)

	return &tx, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
