package corpus

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

//go:embed seed.yaml
var defaultSeed []byte

// Source yields labeled training examples.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string
	Iterate(ctx context.Context) ([]expense.TrainingExample, error)
}

// Memory is an in-memory source.
type Memory struct {
	Label    string
	Examples []expense.TrainingExample
}

func (m Memory) Name() string {
	if m.Label == "" {
		return "memory"
	}
	return m.Label
}

func (m Memory) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return clean(m.Examples), nil
}

// yamlCorpus is the YAML seed file shape. Either grouped categories or flat examples.
type yamlCorpus struct {
	Categories []struct {
		Name     string   `yaml:"name"`
		Examples []string `yaml:"examples"`
	} `yaml:"categories"`
	Examples []expense.TrainingExample `yaml:"examples"`
}

// YAML parses a YAML corpus held in memory.
type YAML struct {
	Label string
	Data  []byte
}

// Default returns the embedded default seed corpus.
func Default() Source {
	return YAML{Label: "embedded", Data: defaultSeed}
}

func (y YAML) Name() string { return y.Label }

func (y YAML) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return parseYAML(y.Data, y.Label)
}

// YAMLFile reads a YAML corpus from disk on every Iterate.
type YAMLFile struct {
	Path string
}

func (f YAMLFile) Name() string { return f.Path }

func (f YAMLFile) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readFile(f.Path)
	if err != nil {
		return nil, err
	}
	return parseYAML(data, f.Path)
}

func parseYAML(data []byte, name string) ([]expense.TrainingExample, error) {
	var doc yamlCorpus
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidRequest(eris.Wrapf(err, "parse corpus yaml %s", name).Error())
	}

	var out []expense.TrainingExample
	for _, c := range doc.Categories {
		for _, text := range c.Examples {
			out = append(out, expense.TrainingExample{Text: text, Category: c.Name})
		}
	}
	out = append(out, doc.Examples...)
	return clean(out), nil
}

// Database reads the examples table.
type Database struct {
	DB *sql.DB
}

func (d Database) Name() string { return "database" }

func (d Database) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	return db.ListExamples(ctx, d.DB)
}

// Chain returns the first source that yields at least one example.
type Chain []Source

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, " > ")
}

func (c Chain) Iterate(ctx context.Context) ([]expense.TrainingExample, error) {
	_, examples, err := c.Resolve(ctx)
	return examples, err
}

// Resolve is Iterate that also reports which source supplied the examples.
func (c Chain) Resolve(ctx context.Context) (Source, []expense.TrainingExample, error) {
	for _, s := range c {
		examples, err := s.Iterate(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(examples) > 0 {
			return s, examples, nil
		}
	}
	return nil, nil, nil
}

// File picks a file source by extension: .yaml/.yml or .csv.
func File(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLFile{Path: path}, nil
	case ".csv":
		return CSVFile{Path: path}, nil
	default:
		return nil, errors.NewInvalidRequest("corpus file must have .yaml, .yml or .csv extension")
	}
}

// Seed is the seed chain used for retraining: the examples table, then seedPath
// when set, then the embedded default.
func Seed(database *sql.DB, seedPath string) (Chain, error) {
	chain := Chain{Database{DB: database}}
	if strings.TrimSpace(seedPath) != "" {
		f, err := File(seedPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
	}
	return append(chain, Default()), nil
}

// clean normalizes categories and drops rows with blank text or category.
func clean(examples []expense.TrainingExample) []expense.TrainingExample {
	out := make([]expense.TrainingExample, 0, len(examples))
	for _, ex := range examples {
		category := expense.NormalizeCategory(ex.Category)
		if expense.IsBlank(ex.Text) || category == "" {
			continue
		}
		out = append(out, expense.TrainingExample{Text: strings.TrimSpace(ex.Text), Category: category})
	}
	return out
}
