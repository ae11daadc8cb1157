package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/features"
)

// DefaultExplainTop is the number of signals Explain returns when k <= 0.
const DefaultExplainTop = 10

// Options controls gradient descent.
type Options struct {
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`
}

// DefaultOptions returns the configured training defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Training)
}

// OptionsFromConfig maps training configuration onto classifier options.
func OptionsFromConfig(c config.TrainingConfig) Options {
	return Options{
		Iterations:   c.Iterations,
		LearningRate: c.LearningRate,
		L2:           c.L2,
	}
}

// Model is a multinomial logistic regression over sparse vectors.
// It is immutable after Fit and safe for concurrent use.
type Model struct {
	classes []string
	weights [][]float64 // one row per class
	bias    []float64
	dim     int
}

// State is the serializable form of a fitted Model.
type State struct {
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	Dim     int         `json:"dim"`
}

// Signal is one feature's contribution toward a class.
type Signal struct {
	Feature int     `json:"feature"`
	Name    string  `json:"name,omitempty"`
	Weight  float64 `json:"weight"`
}

// FeatureNamer maps a feature index to a readable name.
type FeatureNamer interface {
	FeatureName(i int) string
}

// Fit trains a softmax classifier with balanced class weights
// (w_c = n / (k * n_c)) using full-batch gradient descent.
// ctx is checked once per iteration.
func Fit(ctx context.Context, X []features.Vector, labels []string, opts Options) (*Model, error) {
	if len(labels) != len(X) {
		return nil, errors.NewLabelMismatch(fmt.Sprintf("got %d vectors and %d labels", len(X), len(labels)))
	}
	if opts.Iterations < 1 || opts.LearningRate <= 0 || opts.L2 < 0 {
		return nil, errors.NewInvalidRequest("iterations >= 1, learning_rate > 0 and l2 >= 0 required")
	}

	y := make([]string, len(labels))
	counts := make(map[string]int)
	for i, l := range labels {
		l = expense.NormalizeCategory(l)
		if l == "" {
			return nil, errors.NewLabelMismatch(fmt.Sprintf("label %d is empty", i))
		}
		y[i] = l
		counts[l]++
	}
	if len(counts) < 2 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("need examples for at least 2 classes, got %d", len(counts)))
	}

	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	dim := 0
	for _, v := range X {
		for _, idx := range v.Indices {
			if idx >= dim {
				dim = idx + 1
			}
		}
	}

	n := float64(len(X))
	classWeight := balancedWeights(classes, counts)

	target := make([]int, len(y))
	for i, l := range y {
		target[i] = classIndex[l]
	}

	m := &Model{
		classes: classes,
		weights: make([][]float64, len(classes)),
		bias:    make([]float64, len(classes)),
		dim:     dim,
	}
	grad := make([][]float64, len(classes))
	for c := range classes {
		m.weights[c] = make([]float64, dim)
		grad[c] = make([]float64, dim)
	}
	gradBias := make([]float64, len(classes))
	probs := make([]float64, len(classes))

	for iter := 0; iter < opts.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for c := range grad {
			clear(grad[c])
		}
		clear(gradBias)

		for i, v := range X {
			m.scores(v, probs)
			sw := classWeight[target[i]]
			for c := range probs {
				g := probs[c]
				if c == target[i] {
					g -= 1
				}
				g *= sw
				for j, idx := range v.Indices {
					grad[c][idx] += g * v.Values[j]
				}
				gradBias[c] += g
			}
		}

		for c := range m.weights {
			row := m.weights[c]
			for j := range row {
				row[j] -= opts.LearningRate * (grad[c][j]/n + opts.L2*row[j])
			}
			m.bias[c] -= opts.LearningRate * gradBias[c] / n
		}
	}

	return m, nil
}

// balancedWeights returns n / (k * n_c) for each class, in class order.
func balancedWeights(classes []string, counts map[string]int) []float64 {
	var n int
	for _, c := range counts {
		n += c
	}
	k := float64(len(classes))
	out := make([]float64, len(classes))
	for i, c := range classes {
		out[i] = float64(n) / (k * float64(counts[c]))
	}
	return out
}

// FromState restores a Model from its serialized state.
func FromState(s State) (*Model, error) {
	if len(s.Classes) < 2 {
		return nil, fmt.Errorf("classifier state: need at least 2 classes, got %d", len(s.Classes))
	}
	if len(s.Weights) != len(s.Classes) || len(s.Bias) != len(s.Classes) {
		return nil, fmt.Errorf("classifier state: %d classes but %d weight rows and %d biases",
			len(s.Classes), len(s.Weights), len(s.Bias))
	}
	for c, row := range s.Weights {
		if len(row) != s.Dim {
			return nil, fmt.Errorf("classifier state: row %d has %d weights, want %d", c, len(row), s.Dim)
		}
	}
	if !sort.StringsAreSorted(s.Classes) {
		return nil, fmt.Errorf("classifier state: classes not sorted")
	}
	return &Model{classes: s.Classes, weights: s.Weights, bias: s.Bias, dim: s.Dim}, nil
}

// State returns the serializable state.
func (m *Model) State() State {
	return State{Classes: m.classes, Weights: m.weights, Bias: m.bias, Dim: m.dim}
}

// Classes returns the class labels in sorted order.
func (m *Model) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

// PredictProba returns a probability per class. Values sum to 1.
func (m *Model) PredictProba(v features.Vector) map[string]float64 {
	probs := make([]float64, len(m.classes))
	m.scores(v, probs)

	out := make(map[string]float64, len(m.classes))
	for c, p := range probs {
		out[m.classes[c]] = p
	}
	return out
}

// scores writes softmax probabilities into out.
func (m *Model) scores(v features.Vector, out []float64) {
	maxZ := math.Inf(-1)
	for c := range m.classes {
		z := v.Dot(m.weights[c]) + m.bias[c]
		out[c] = z
		if z > maxZ {
			maxZ = z
		}
	}
	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - maxZ)
		sum += out[c]
	}
	for c := range out {
		out[c] /= sum
	}
}

// Explain returns the k features with the largest positive weight for category.
// Names are filled from namer when it is non-nil.
func (m *Model) Explain(category string, k int, namer FeatureNamer) ([]Signal, error) {
	category = expense.NormalizeCategory(category)
	c := -1
	for i, name := range m.classes {
		if name == category {
			c = i
			break
		}
	}
	if c < 0 {
		return nil, errors.NewNotFound(fmt.Sprintf("category %q", category))
	}
	if k <= 0 {
		k = DefaultExplainTop
	}

	signals := make([]Signal, 0, k)
	for j, w := range m.weights[c] {
		if w > 0 {
			signals = append(signals, Signal{Feature: j, Weight: w})
		}
	}
	sort.SliceStable(signals, func(a, b int) bool {
		return signals[a].Weight > signals[b].Weight
	})
	if len(signals) > k {
		signals = signals[:k]
	}
	if namer != nil {
		for i := range signals {
			signals[i].Name = namer.FeatureName(signals[i].Feature)
		}
	}
	return signals, nil
}
