package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict wraps constraint violations, e.g. a transaction pointing at
	// an account that was deleted concurrently.
	ErrConflict = errors.New("conflict")
)

// timeLayout is fixed-width UTC so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05Z"

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS corpus_imports (
			id TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			message_count INTEGER NOT NULL,
			imported_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			import_id TEXT,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			UNIQUE (sender_id, body, received_at),
			FOREIGN KEY (import_id) REFERENCES corpus_imports(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			is_linked INTEGER NOT NULL DEFAULT 1,
			bank_code TEXT,
			account_number_last4 TEXT,
			balance TEXT NOT NULL DEFAULT '0.00',
			color TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_bank_code ON accounts(bank_code)`,

		`CREATE TABLE IF NOT EXISTS account_sender_ids (
			account_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			PRIMARY KEY (account_id, sender_id),
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS recurring_templates (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			amount TEXT NOT NULL,
			type TEXT NOT NULL,
			frequency TEXT NOT NULL,
			next_due_date DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recurring_account ON recurring_templates(account_id)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT,
			recurring_id TEXT,
			amount TEXT NOT NULL,
			is_debit INTEGER NOT NULL,
			category TEXT NOT NULL,
			merchant_name TEXT,
			account_hint TEXT,
			bank_code TEXT,
			card_type TEXT,
			upi_id TEXT,
			reference_number TEXT,
			sender_name TEXT,
			receiver_name TEXT,
			sms_sender TEXT,
			sender_key TEXT,
			original_message TEXT,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id),
			FOREIGN KEY (recurring_id) REFERENCES recurring_templates(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference_number)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sender_amount ON transactions(sender_key, amount, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_recurring ON transactions(recurring_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_occurred_at ON transactions(occurred_at)`,

		`CREATE TABLE IF NOT EXISTS discovered_banks (
			id TEXT PRIMARY KEY,
			bank_code TEXT,
			bank_name TEXT NOT NULL,
			primary_sender_id TEXT NOT NULL,
			sender_ids TEXT NOT NULL,
			new_sender_ids TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			sample_message TEXT NOT NULL,
			last_transaction_at DATETIME NOT NULL,
			is_known INTEGER NOT NULL,
			first_seen_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry an offset.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wrapConstraint maps SQLite constraint failures onto ErrConflict.
func wrapConstraint(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "constraint failed") {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
