package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.SpendError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// InsertExamples stores seed examples in one transaction.
// Text and category are stored raw and normalized; rows with blank text or category are skipped.
// Returns the number of rows inserted.
func InsertExamples(ctx context.Context, db *sql.DB, examples []expense.TrainingExample, source string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "begin insert examples"))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO examples (text, text_norm, category, source, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "prepare insert examples"))
	}
	defer stmt.Close()

	now := time.Now().Unix()
	inserted := 0
	for _, ex := range examples {
		category := expense.NormalizeCategory(ex.Category)
		if expense.IsBlank(ex.Text) || category == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, ex.Text, expense.Normalize(ex.Text), category, toNullString(source), now); err != nil {
			return 0, errors.NewInternal(eris.Wrap(err, "insert example"))
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "commit insert examples"))
	}
	return inserted, nil
}

// ListExamples returns all seed examples in insertion order.
func ListExamples(ctx context.Context, db *sql.DB) ([]expense.TrainingExample, error) {
	rows, err := db.QueryContext(ctx, `SELECT text, category FROM examples ORDER BY id`)
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "list examples"))
	}
	defer rows.Close()

	var out []expense.TrainingExample
	for rows.Next() {
		var ex expense.TrainingExample
		if err := rows.Scan(&ex.Text, &ex.Category); err != nil {
			return nil, errors.NewInternal(eris.Wrap(err, "scan example"))
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "iterate examples"))
	}
	return out, nil
}

// CountExamples returns the number of stored seed examples.
func CountExamples(ctx context.Context, db *sql.DB) (int, error) {
	return count(ctx, db, "examples")
}

// DeleteExamples removes all seed examples. Corrections are never touched.
func DeleteExamples(ctx context.Context, db *sql.DB) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM examples`)
	if err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "delete examples"))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "delete examples rows affected"))
	}
	return int(n), nil
}

// InsertCorrection appends a correction. Corrections are never updated or deleted.
func InsertCorrection(ctx context.Context, db *sql.DB, c *expense.Correction) error {
	query := `
		INSERT INTO corrections (id, text, text_norm, correct_category, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, c.ID, c.Text, expense.Normalize(c.Text), c.CorrectCategory, c.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(eris.Wrap(err, "insert correction"))
	}
	return nil
}

// ListCorrections returns corrections in insertion order.
// A limit <= 0 returns every correction from offset on.
func ListCorrections(ctx context.Context, db *sql.DB, limit, offset int) ([]expense.Correction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `
		SELECT id, text, correct_category, created_at
		FROM corrections
		ORDER BY seq
		LIMIT ? OFFSET ?
	`
	rows, err := db.QueryContext(ctx, query, limit, max(offset, 0))
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "list corrections"))
	}
	defer rows.Close()

	var out []expense.Correction
	for rows.Next() {
		var c expense.Correction
		if err := rows.Scan(&c.ID, &c.Text, &c.CorrectCategory, &c.CreatedAt); err != nil {
			return nil, errors.NewInternal(eris.Wrap(err, "scan correction"))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "iterate corrections"))
	}
	return out, nil
}

// CountCorrections returns the number of recorded corrections.
func CountCorrections(ctx context.Context, db *sql.DB) (int, error) {
	return count(ctx, db, "corrections")
}

// count returns the row count of a fixed table name.
func count(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errors.NewInternal(eris.Wrapf(err, "count %s", table))
	}
	return n, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
