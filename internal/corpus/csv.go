package corpus

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// Accepted header names, matched case-insensitively after trimming.
var (
	textColumns     = []string{"text", "description"}
	categoryColumns = []string{"category", "label"}
)

// CSVFile reads a headered CSV corpus. The text column may be named text or description;
// the label column category or label. Extra columns are ignored.
type CSVFile struct {
	Path string

	// Categories, when set, keeps only rows whose normalized category is listed.
	Categories []string
}

func (f CSVFile) Name() string { return f.Path }

func (f CSVFile) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	data, err := readFile(f.Path)
	if err != nil {
		return nil, err
	}
	return ParseCSV(ctx, bytes.NewReader(data), f.Categories)
}

// ParseCSV parses a headered CSV corpus from r.
func ParseCSV(ctx context.Context, r io.Reader, categories []string) ([]expense.TrainingExample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInvalidRequest(eris.Wrap(err, "csv: read header").Error())
	}

	textIdx, categoryIdx := -1, -1
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if textIdx < 0 && slices.Contains(textColumns, col) {
			textIdx = i
		} else if categoryIdx < 0 && slices.Contains(categoryColumns, col) {
			categoryIdx = i
		}
	}
	if textIdx < 0 || categoryIdx < 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf(
			"csv: need a text column (%s) and a category column (%s); got %v",
			strings.Join(textColumns, "/"), strings.Join(categoryColumns, "/"), header))
	}

	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[expense.NormalizeCategory(c)] = true
	}

	var out []expense.TrainingExample
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewInvalidRequest(eris.Wrapf(err, "csv: read row %d", line).Error())
		}
		if textIdx >= len(record) || categoryIdx >= len(record) {
			continue
		}
		ex := expense.TrainingExample{Text: record[textIdx], Category: record[categoryIdx]}
		if len(allowed) > 0 && !allowed[expense.NormalizeCategory(ex.Category)] {
			continue
		}
		out = append(out, ex)
	}
	return clean(out), nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(eris.Wrapf(err, "read %s", path))
	}
	return data, nil
}
