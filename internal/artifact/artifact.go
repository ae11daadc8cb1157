package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hpungsan/spendcat/internal/classifier"
	"github.com/hpungsan/spendcat/internal/evaluate"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/features"
)

// FormatVersion is the payload schema version written into every artifact file.
const FormatVersion = 1

// Stats describes the corpus an artifact was trained on.
type Stats struct {
	Examples     int            `json:"examples"`
	SeedExamples int            `json:"seed_examples"`
	Corrections  int            `json:"corrections"`
	PerCategory  map[string]int `json:"per_category"`
}

// Params are the inputs to New.
type Params struct {
	Version    int
	TrainedAt  time.Time
	Fallback   string
	Extractor  *features.Extractor
	Classifier *classifier.Model

	// Corrections maps normalized text to the latest category a user asserted for it.
	Corrections map[string]string

	Stats      Stats
	Evaluation *evaluate.Report
}

// Artifact is a trained model: fitted extractor and classifier plus metadata.
// It is immutable once built and safe for concurrent use.
type Artifact struct {
	version     int
	trainedAt   time.Time
	fallback    string
	categories  []string
	extractor   *features.Extractor
	classifier  *classifier.Model
	corrections map[string]string
	stats       Stats
	evaluation  *evaluate.Report
}

// Info is the JSON-friendly summary of an artifact.
type Info struct {
	Version     int              `json:"version"`
	TrainedAt   int64            `json:"trained_at"`
	Fallback    string           `json:"fallback"`
	Categories  []string         `json:"categories"`
	Features    int              `json:"features"`
	Corrections int              `json:"remembered_corrections"`
	Stats       Stats            `json:"stats"`
	Evaluation  *evaluate.Report `json:"evaluation,omitempty"`
}

// payload is the on-disk form.
type payload struct {
	FormatVersion int               `json:"format_version"`
	Version       int               `json:"version"`
	TrainedAt     int64             `json:"trained_at"`
	Fallback      string            `json:"fallback"`
	Categories    []string          `json:"categories"`
	Extractor     features.State    `json:"extractor"`
	Classifier    classifier.State  `json:"classifier"`
	Corrections   map[string]string `json:"corrections,omitempty"`
	Stats         Stats             `json:"stats"`
	Evaluation    *evaluate.Report  `json:"evaluation,omitempty"`
}

// New assembles an artifact. The category set is the classifier's classes, the
// fallback and every remembered correction category, sorted.
func New(p Params) (*Artifact, error) {
	if p.Version < 1 {
		return nil, fmt.Errorf("artifact version must be >= 1, got %d", p.Version)
	}
	if p.Extractor == nil || p.Classifier == nil {
		return nil, fmt.Errorf("artifact v%d: extractor and classifier are required", p.Version)
	}
	fallback := expense.NormalizeCategory(p.Fallback)
	if fallback == "" {
		return nil, fmt.Errorf("artifact v%d: fallback category is required", p.Version)
	}

	set := map[string]struct{}{fallback: {}}
	for _, c := range p.Classifier.Classes() {
		set[c] = struct{}{}
	}
	corrections := make(map[string]string, len(p.Corrections))
	for text, c := range p.Corrections {
		c = expense.NormalizeCategory(c)
		if text == "" || c == "" {
			continue
		}
		corrections[text] = c
		set[c] = struct{}{}
	}
	categories := make([]string, 0, len(set))
	for c := range set {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	a := &Artifact{
		version:     p.Version,
		trainedAt:   p.TrainedAt.UTC().Truncate(time.Second),
		fallback:    fallback,
		categories:  categories,
		extractor:   p.Extractor,
		classifier:  p.Classifier,
		corrections: corrections,
		stats:       p.Stats,
		evaluation:  p.Evaluation,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// validate checks the invariants every loaded or built artifact must hold.
func (a *Artifact) validate() error {
	if len(a.categories) == 0 {
		return fmt.Errorf("empty category set")
	}
	if !sort.StringsAreSorted(a.categories) {
		return fmt.Errorf("category set not sorted")
	}
	if !slices.Contains(a.categories, a.fallback) {
		return fmt.Errorf("category set missing fallback %q", a.fallback)
	}
	for _, c := range a.classifier.Classes() {
		if !slices.Contains(a.categories, c) {
			return fmt.Errorf("classifier class %q missing from category set", c)
		}
	}
	for text, c := range a.corrections {
		if !slices.Contains(a.categories, c) {
			return fmt.Errorf("correction for %q targets unknown category %q", text, c)
		}
	}
	if a.classifier.State().Dim > a.extractor.Dim() {
		return fmt.Errorf("classifier expects %d features, extractor produces %d",
			a.classifier.State().Dim, a.extractor.Dim())
	}
	return nil
}

// Encode serializes the artifact.
func Encode(a *Artifact) ([]byte, error) {
	p := payload{
		FormatVersion: FormatVersion,
		Version:       a.version,
		TrainedAt:     a.trainedAt.Unix(),
		Fallback:      a.fallback,
		Categories:    a.categories,
		Extractor:     a.extractor.State(),
		Classifier:    a.classifier.State(),
		Corrections:   a.corrections,
		Stats:         a.stats,
		Evaluation:    a.evaluation,
	}
	return json.Marshal(p)
}

// Decode parses and validates a payload.
func Decode(data []byte) (*Artifact, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", p.FormatVersion)
	}

	ext, err := features.FromState(p.Extractor)
	if err != nil {
		return nil, err
	}
	clf, err := classifier.FromState(p.Classifier)
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		version:     p.Version,
		trainedAt:   time.Unix(p.TrainedAt, 0).UTC(),
		fallback:    p.Fallback,
		categories:  p.Categories,
		extractor:   ext,
		classifier:  clf,
		corrections: p.Corrections,
		stats:       p.Stats,
		evaluation:  p.Evaluation,
	}
	if a.corrections == nil {
		a.corrections = map[string]string{}
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Version returns the artifact version.
func (a *Artifact) Version() int { return a.version }

// TrainedAt returns when the artifact was trained, to the second.
func (a *Artifact) TrainedAt() time.Time { return a.trainedAt }

// Fallback returns the fallback category.
func (a *Artifact) Fallback() string { return a.fallback }

// Categories returns the ordered category set.
func (a *Artifact) Categories() []string {
	return slices.Clone(a.categories)
}

// HasCategory reports whether c (normalized) is in the category set.
func (a *Artifact) HasCategory(c string) bool {
	return slices.Contains(a.categories, expense.NormalizeCategory(c))
}

// Transform vectorizes text with the fitted extractor.
func (a *Artifact) Transform(text string) features.Vector {
	return a.extractor.Transform(text)
}

// PredictProba scores a vector with the fitted classifier.
func (a *Artifact) PredictProba(v features.Vector) map[string]float64 {
	return a.classifier.PredictProba(v)
}

// CorrectedCategory looks up a remembered correction by normalized text.
func (a *Artifact) CorrectedCategory(normalized string) (string, bool) {
	c, ok := a.corrections[normalized]
	return c, ok
}

// Explain returns the top-k features pushing toward category.
func (a *Artifact) Explain(category string, k int) ([]classifier.Signal, error) {
	return a.classifier.Explain(category, k, a.extractor)
}

// Stats returns corpus statistics.
func (a *Artifact) Stats() Stats { return a.stats }

// Evaluation returns the holdout report, or nil when none was computed.
func (a *Artifact) Evaluation() *evaluate.Report { return a.evaluation }

// Info summarizes the artifact.
func (a *Artifact) Info() Info {
	return Info{
		Version:     a.version,
		TrainedAt:   a.trainedAt.Unix(),
		Fallback:    a.fallback,
		Categories:  a.Categories(),
		Features:    a.extractor.Dim(),
		Corrections: len(a.corrections),
		Stats:       a.stats,
		Evaluation:  a.evaluation,
	}
}
