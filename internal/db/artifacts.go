package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/errors"
)

// ArtifactRecord is a registry row describing one model artifact file.
type ArtifactRecord struct {
	Version     int      `json:"version"`
	TrainedAt   int64    `json:"trained_at"`
	Path        string   `json:"path"`
	Checksum    string   `json:"checksum"`
	SizeBytes   int64    `json:"size_bytes"`
	Examples    int      `json:"examples"`
	Corrections int      `json:"corrections"`
	Categories  []string `json:"categories"`
	Active      bool     `json:"active"`
	CreatedAt   int64    `json:"created_at"`
	DiscardedAt *int64   `json:"discarded_at,omitempty"`
}

const artifactColumns = `
	version, trained_at, path, checksum, size_bytes, examples, corrections,
	categories_json, active, created_at, discarded_at
`

// InsertArtifact registers an artifact. When activate is true the active pointer
// moves to it in the same transaction, so readers see either the old or the new active row.
func InsertArtifact(ctx context.Context, db *sql.DB, rec *ArtifactRecord, activate bool) error {
	categories, err := json.Marshal(rec.Categories)
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "marshal categories"))
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "begin insert artifact"))
	}
	defer func() { _ = tx.Rollback() }()

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE artifacts SET active = 0 WHERE active = 1`); err != nil {
			return errors.NewInternal(eris.Wrap(err, "clear active artifact"))
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (
			version, trained_at, path, checksum, size_bytes, examples, corrections,
			categories_json, active, created_at, discarded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		rec.Version, rec.TrainedAt, rec.Path, rec.Checksum, rec.SizeBytes, rec.Examples, rec.Corrections,
		string(categories), boolToInt(activate), rec.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict(fmt.Sprintf("artifact v%d already registered", rec.Version))
		}
		return errors.NewInternal(eris.Wrap(err, "insert artifact"))
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(eris.Wrap(err, "commit insert artifact"))
	}
	rec.Active = activate
	return nil
}

// SetActiveArtifact moves the active pointer to version in one transaction.
func SetActiveArtifact(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "begin set active"))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE artifacts SET active = 0 WHERE active = 1`); err != nil {
		return errors.NewInternal(eris.Wrap(err, "clear active artifact"))
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE artifacts SET active = 1 WHERE version = ? AND discarded_at IS NULL`, version)
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "set active artifact"))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "set active rows affected"))
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(fmt.Sprintf("artifact v%d", version))
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(eris.Wrap(err, "commit set active"))
	}
	return nil
}

// GetActiveArtifact returns the active registry row, or NOT_FOUND when nothing was ever activated.
func GetActiveArtifact(ctx context.Context, db *sql.DB) (*ArtifactRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE active = 1`)
	rec, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("active artifact")
	}
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "get active artifact"))
	}
	return rec, nil
}

// GetArtifact returns the registry row for version, including discarded rows.
func GetArtifact(ctx context.Context, db *sql.DB, version int) (*ArtifactRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE version = ?`, version)
	rec, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fmt.Sprintf("artifact v%d", version))
	}
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "get artifact"))
	}
	return rec, nil
}

// PreviousArtifact returns the newest non-discarded artifact older than version.
func PreviousArtifact(ctx context.Context, db *sql.DB, version int) (*ArtifactRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE version < ? AND discarded_at IS NULL
		ORDER BY version DESC
		LIMIT 1
	`, version)
	rec, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fmt.Sprintf("artifact older than v%d", version))
	}
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "get previous artifact"))
	}
	return rec, nil
}

// ListArtifacts returns registry rows newest first.
func ListArtifacts(ctx context.Context, db *sql.DB, includeDiscarded bool) ([]ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	if !includeDiscarded {
		query += " WHERE discarded_at IS NULL"
	}
	query += " ORDER BY version DESC"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "list artifacts"))
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, errors.NewInternal(eris.Wrap(err, "scan artifact"))
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "iterate artifacts"))
	}
	return out, nil
}

// MaxArtifactVersion returns the highest version ever registered, discarded rows included.
// Versions are never reused. Returns 0 when the registry is empty.
func MaxArtifactVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM artifacts`).Scan(&v); err != nil {
		return 0, errors.NewInternal(eris.Wrap(err, "max artifact version"))
	}
	return int(v.Int64), nil
}

// DiscardArtifact marks an inactive artifact as discarded.
// The active artifact cannot be discarded.
func DiscardArtifact(ctx context.Context, db *sql.DB, version int) error {
	rec, err := GetArtifact(ctx, db, version)
	if err != nil {
		return err
	}
	if rec.Active {
		return errors.NewConflict(fmt.Sprintf("artifact v%d is active; roll back before discarding", version))
	}
	if rec.DiscardedAt != nil {
		return errors.NewNotFound(fmt.Sprintf("artifact v%d", version))
	}

	result, err := db.ExecContext(ctx, `
		UPDATE artifacts SET discarded_at = ?
		WHERE version = ? AND active = 0 AND discarded_at IS NULL
	`, time.Now().Unix(), version)
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "discard artifact"))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(eris.Wrap(err, "discard rows affected"))
	}
	if rowsAffected == 0 {
		return errors.NewConflict(fmt.Sprintf("artifact v%d changed while discarding", version))
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanArtifact scans a single row into an ArtifactRecord.
func scanArtifact(row rowScanner) (*ArtifactRecord, error) {
	var (
		rec         ArtifactRecord
		categories  string
		active      int
		discardedAt sql.NullInt64
	)
	err := row.Scan(
		&rec.Version, &rec.TrainedAt, &rec.Path, &rec.Checksum, &rec.SizeBytes, &rec.Examples, &rec.Corrections,
		&categories, &active, &rec.CreatedAt, &discardedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Active = active == 1
	if discardedAt.Valid {
		rec.DiscardedAt = &discardedAt.Int64
	}
	if err := json.Unmarshal([]byte(categories), &rec.Categories); err != nil {
		return nil, eris.Wrapf(err, "parse categories of artifact v%d", rec.Version)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
