package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kharcha/reconciler/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ImportExistsByHash checks whether a corpus with the given file hash has
// already been imported (idempotency check).
func (r *MessageRepo) ImportExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM corpus_imports WHERE file_hash = ?", hash,
	).Scan(&count)
	return count > 0, err
}

// SaveImport records the import and stores its messages in one transaction.
// Messages already present (same sender, body and time) are skipped; the
// number of new rows is returned.
func (r *MessageRepo) SaveImport(ctx context.Context, imp *domain.CorpusImport, msgs []domain.Message) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO corpus_imports (id, format, file_hash, message_count, imported_at)
		VALUES (?,?,?,?,?)`,
		imp.ID, imp.Format, imp.FileHash, imp.MessageCount, formatTime(imp.ImportedAt),
	)
	if err != nil {
		return 0, wrapConstraint("insert import", err)
	}

	n, err := insertMessages(ctx, tx, &imp.ID, msgs)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// BulkInsert stores live messages that do not belong to an import.
func (r *MessageRepo) BulkInsert(ctx context.Context, msgs []domain.Message) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	n, err := insertMessages(ctx, tx, nil, msgs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, importID *string, msgs []domain.Message) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO messages (id, import_id, sender_id, body, received_at)
		VALUES (?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx, m.ID, nullableString(importID), m.SenderID, m.Body, formatTime(m.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert message %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}
	return inserted, nil
}

// Stream calls fn for every message received at or after since, oldest
// first. Iteration stops at the first error from fn or when ctx is done.
// The rows hold a connection open, so fn must not write through the same
// single-connection pool; use Since for that.
func (r *MessageRepo) Stream(ctx context.Context, since time.Time, fn func(domain.Message) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sender_id, body, received_at FROM messages
		WHERE received_at >= ? ORDER BY received_at, id`,
		formatTime(since),
	)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Body, &ts); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		m.Timestamp = parseTime(ts)
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *MessageRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}
