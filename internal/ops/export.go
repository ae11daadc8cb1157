package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/fsutil"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path string // optional, default: ~/.spendcat/exports/corrections-<timestamp>.jsonl
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export file.
type ExportHeader struct {
	SpendcatExport bool   `json:"_spendcat_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
}

// ExportRecord is one line of an export file. The header line decodes with only
// SpendcatExport set.
type ExportRecord struct {
	SpendcatExport bool `json:"_spendcat_export,omitempty"`
	expense.Correction
}

// Export writes every correction to a JSONL file, oldest first.
// The file is replaced atomically; an existing file survives any failure.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		exportPath = filepath.Join(dir, fmt.Sprintf("corrections-%s.jsonl", now.Format("2006-01-02T150405")))
	}

	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(eris.Wrap(err, "failed to create export directory"))
	}

	corrections, err := db.ListCorrections(ctx, database, 0, 0)
	if err != nil {
		return nil, err
	}

	err = fsutil.WriteFileAtomic(exportPath, 0600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		if err := enc.Encode(ExportHeader{
			SpendcatExport: true,
			SchemaVersion:  exportSchemaVersion,
			ExportedAt:     exportedAt,
		}); err != nil {
			return err
		}
		for _, c := range corrections {
			if err := ctx.Err(); err != nil {
				return errors.NewCancelled("export")
			}
			if err := enc.Encode(ExportRecord{Correction: c}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(eris.Wrap(err, "export corrections"))
	}

	return &ExportOutput{
		Path:       exportPath,
		Count:      len(corrections),
		ExportedAt: exportedAt,
	}, nil
}
