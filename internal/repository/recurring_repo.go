package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/domain"
)

type RecurringRepo struct {
	db *sql.DB
}

func NewRecurringRepo(db *sql.DB) *RecurringRepo {
	return &RecurringRepo{db: db}
}

func (r *RecurringRepo) Create(ctx context.Context, t *domain.RecurringTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Frequency == "" {
		t.Frequency = domain.FrequencyMonthly
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_templates
		(id, account_id, name, amount, type, frequency, next_due_date, is_active)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.AccountID, t.Name, t.Amount.StringFixed(2), string(t.Type),
		string(t.Frequency), formatTime(t.NextDueDate), boolInt(t.IsActive),
	)
	return wrapConstraint("insert recurring template", err)
}

const recurringColumns = `id, account_id, name, amount, type, frequency, next_due_date, is_active`

// ListActive returns the active templates on one account.
func (r *RecurringRepo) ListActive(ctx context.Context, accountID string) ([]domain.RecurringTemplate, error) {
	return r.query(ctx,
		"SELECT "+recurringColumns+" FROM recurring_templates WHERE account_id = ? AND is_active = 1 ORDER BY next_due_date, id",
		accountID,
	)
}

func (r *RecurringRepo) List(ctx context.Context) ([]domain.RecurringTemplate, error) {
	return r.query(ctx, "SELECT "+recurringColumns+" FROM recurring_templates ORDER BY next_due_date, id")
}

// AdvanceDueDate moves a template's next due date forward.
func (r *RecurringRepo) AdvanceDueDate(ctx context.Context, id string, next time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE recurring_templates SET next_due_date = ? WHERE id = ?",
		formatTime(next), id,
	)
	if err != nil {
		return fmt.Errorf("advance due date: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recurring template %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *RecurringRepo) query(ctx context.Context, q string, args ...any) ([]domain.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.RecurringTemplate
	for rows.Next() {
		var t domain.RecurringTemplate
		var amount, typ, freq, due string
		var active int
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &amount, &typ, &freq, &due, &active); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.Type = domain.RecurringType(typ)
		t.Frequency = domain.Frequency(freq)
		t.NextDueDate = parseTime(due)
		t.IsActive = active != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
