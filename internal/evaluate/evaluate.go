package evaluate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// ClassMetrics is the per-class slice of a Report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes predictions against a labeled holdout set.
type Report struct {
	Total    int                     `json:"total"`
	Accuracy float64                 `json:"accuracy"`
	MacroF1  float64                 `json:"macro_f1"`
	Classes  map[string]ClassMetrics `json:"classes"`
}

// StratifiedSplit holds out roughly fraction of each category for testing.
// Categories with a single example stay in train. The split is reproducible for a given seed.
func StratifiedSplit(examples []expense.TrainingExample, fraction float64, seed int64) (train, test []expense.TrainingExample) {
	if fraction <= 0 {
		return examples, nil
	}

	byCategory := make(map[string][]expense.TrainingExample)
	for _, ex := range examples {
		c := expense.NormalizeCategory(ex.Category)
		byCategory[c] = append(byCategory[c], ex)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range categories {
		group := append([]expense.TrainingExample(nil), byCategory[c]...)
		if len(group) < 2 {
			train = append(train, group...)
			continue
		}
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		n := int(math.Round(float64(len(group)) * fraction))
		n = max(1, min(n, len(group)-1))
		test = append(test, group[:n]...)
		train = append(train, group[n:]...)
	}
	return train, test
}

// NewReport computes accuracy and per-class precision, recall and F1.
// Labels are compared after category normalization.
func NewReport(actual, predicted []string) (*Report, error) {
	if len(actual) != len(predicted) {
		return nil, errors.NewLabelMismatch(fmt.Sprintf("got %d actual and %d predicted labels", len(actual), len(predicted)))
	}

	tp := make(map[string]int)
	fp := make(map[string]int)
	support := make(map[string]int)
	labels := make(map[string]struct{})
	correct := 0

	for i := range actual {
		a := expense.NormalizeCategory(actual[i])
		p := expense.NormalizeCategory(predicted[i])
		labels[a] = struct{}{}
		labels[p] = struct{}{}
		support[a]++
		if a == p {
			tp[a]++
			correct++
		} else {
			fp[p]++
		}
	}

	r := &Report{Total: len(actual), Classes: make(map[string]ClassMetrics, len(labels))}
	if len(actual) == 0 {
		return r, nil
	}
	r.Accuracy = float64(correct) / float64(len(actual))

	var f1Sum float64
	for l := range labels {
		m := ClassMetrics{Support: support[l]}
		m.Precision = ratio(tp[l], tp[l]+fp[l])
		m.Recall = ratio(tp[l], support[l])
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[l] = m
		f1Sum += m.F1
	}
	r.MacroF1 = f1Sum / float64(len(labels))
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
