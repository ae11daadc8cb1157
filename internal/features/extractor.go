package features

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// Feature name prefixes. Word and character grams live in separate spaces,
// so "uber" the word and "uber" the 4-gram are distinct features.
const (
	wordPrefix = "w:"
	charPrefix = "c:"
)

// Options controls vocabulary construction.
type Options struct {
	MinDF        int `json:"min_df"`
	MinDFMinDocs int `json:"min_df_min_docs"`
	WordNgramMax int `json:"word_ngram_max"`
	CharNgramMin int `json:"char_ngram_min"`
	CharNgramMax int `json:"char_ngram_max"`
}

// DefaultOptions returns word 1-2 grams, char 3-5 grams and min_df 2 from 200 documents.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Features)
}

// OptionsFromConfig maps feature configuration onto extractor options.
func OptionsFromConfig(c config.FeaturesConfig) Options {
	return Options{
		MinDF:        c.MinDF,
		MinDFMinDocs: c.MinDFMinDocs,
		WordNgramMax: c.WordNgramMax,
		CharNgramMin: c.CharNgramMin,
		CharNgramMax: c.CharNgramMax,
	}
}

// space is one TF-IDF feature space with a fixed vocabulary.
type space struct {
	terms []string
	index map[string]int
	idf   []float64
}

func newSpace(terms []string, idf []float64) *space {
	index := make(map[string]int, len(terms))
	for i, t := range terms {
		index[t] = i
	}
	return &space{terms: terms, index: index, idf: idf}
}

// Extractor maps text to a fixed-dimension sparse vector.
// It is immutable after Fit and safe for concurrent use.
type Extractor struct {
	opts  Options
	words *space
	chars *space
}

// State is the serializable form of a fitted Extractor.
type State struct {
	Options   Options   `json:"options"`
	WordTerms []string  `json:"word_terms"`
	WordIDF   []float64 `json:"word_idf"`
	CharTerms []string  `json:"char_terms"`
	CharIDF   []float64 `json:"char_idf"`
}

// Fit builds the vocabulary and IDF weights from a labeled corpus.
func Fit(ctx context.Context, examples []expense.TrainingExample, opts Options) (*Extractor, error) {
	if len(examples) == 0 {
		return nil, errors.NewInsufficientData("training corpus is empty")
	}
	if opts.MinDF < 1 {
		opts.MinDF = 1
	}
	if opts.WordNgramMax < 1 || opts.CharNgramMin < 1 || opts.CharNgramMax < opts.CharNgramMin {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid n-gram ranges: word 1-%d, char %d-%d",
			opts.WordNgramMax, opts.CharNgramMin, opts.CharNgramMax))
	}

	categories := make(map[string]struct{})
	for _, ex := range examples {
		if c := expense.NormalizeCategory(ex.Category); c != "" {
			categories[c] = struct{}{}
		}
	}
	if len(categories) < 2 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("need at least 2 categories, got %d", len(categories)))
	}

	minDF := 1
	if len(examples) >= opts.MinDFMinDocs {
		minDF = opts.MinDF
	}

	wordDF := make(map[string]int)
	charDF := make(map[string]int)
	for i, ex := range examples {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		doc := expense.Normalize(ex.Text)
		for t := range wordCounts(doc, opts.WordNgramMax) {
			wordDF[t]++
		}
		for t := range charCounts(doc, opts.CharNgramMin, opts.CharNgramMax) {
			charDF[t]++
		}
	}

	n := len(examples)
	e := &Extractor{
		opts:  opts,
		words: buildSpace(wordDF, n, minDF),
		chars: buildSpace(charDF, n, minDF),
	}
	if e.Dim() == 0 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("no features survived min_df=%d", minDF))
	}
	return e, nil
}

func buildSpace(df map[string]int, n, minDF int) *space {
	terms := make([]string, 0, len(df))
	for t, c := range df {
		if c >= minDF {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)

	idf := make([]float64, len(terms))
	for i, t := range terms {
		idf[i] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}
	return newSpace(terms, idf)
}

// FromState restores an Extractor from its serialized state.
func FromState(s State) (*Extractor, error) {
	if len(s.WordTerms) != len(s.WordIDF) || len(s.CharTerms) != len(s.CharIDF) {
		return nil, fmt.Errorf("extractor state: vocabulary and idf lengths differ")
	}
	if len(s.WordTerms)+len(s.CharTerms) == 0 {
		return nil, fmt.Errorf("extractor state: empty vocabulary")
	}
	for _, terms := range [][]string{s.WordTerms, s.CharTerms} {
		if !sort.StringsAreSorted(terms) {
			return nil, fmt.Errorf("extractor state: vocabulary not sorted")
		}
	}
	return &Extractor{
		opts:  s.Options,
		words: newSpace(s.WordTerms, s.WordIDF),
		chars: newSpace(s.CharTerms, s.CharIDF),
	}, nil
}

// State returns the serializable state.
func (e *Extractor) State() State {
	return State{
		Options:   e.opts,
		WordTerms: e.words.terms,
		WordIDF:   e.words.idf,
		CharTerms: e.chars.terms,
		CharIDF:   e.chars.idf,
	}
}

// Dim returns the total vector dimension.
func (e *Extractor) Dim() int {
	return len(e.words.terms) + len(e.chars.terms)
}

// FeatureName returns a readable name for feature index i, e.g. "w:pizza" or "c:ube".
func (e *Extractor) FeatureName(i int) string {
	w := len(e.words.terms)
	switch {
	case i < 0 || i >= e.Dim():
		return ""
	case i < w:
		return wordPrefix + e.words.terms[i]
	default:
		return charPrefix + e.chars.terms[i-w]
	}
}

// Transform vectorizes text. Out-of-vocabulary text yields an empty vector.
func (e *Extractor) Transform(text string) Vector {
	doc := expense.Normalize(text)
	if doc == "" {
		return Vector{}
	}

	wv := e.words.weigh(wordCounts(doc, e.opts.WordNgramMax), 0)
	cv := e.chars.weigh(charCounts(doc, e.opts.CharNgramMin, e.opts.CharNgramMax), len(e.words.terms))

	return Vector{
		Indices: append(wv.Indices, cv.Indices...),
		Values:  append(wv.Values, cv.Values...),
	}
}

// TransformAll vectorizes texts in parallel, preserving order.
func (e *Extractor) TransformAll(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, text := range texts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			out[i] = e.Transform(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// weigh applies tf-idf to in-vocabulary counts and L2-normalizes the result.
// Indices are shifted by offset.
func (s *space) weigh(counts map[string]int, offset int) Vector {
	idx := make([]int, 0, len(counts))
	for t := range counts {
		if i, ok := s.index[t]; ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return Vector{}
	}
	sort.Ints(idx)

	v := Vector{Indices: make([]int, len(idx)), Values: make([]float64, len(idx))}
	var sum float64
	for k, i := range idx {
		w := float64(counts[s.terms[i]]) * s.idf[i]
		v.Indices[k] = i + offset
		v.Values[k] = w
		sum += w * w
	}
	norm := math.Sqrt(sum)
	for k := range v.Values {
		v.Values[k] /= norm
	}
	return v
}

// wordCounts counts word n-grams of length 1..maxN.
func wordCounts(doc string, maxN int) map[string]int {
	tokens := expense.Words(doc)
	counts := make(map[string]int, len(tokens)*maxN)
	for n := 1; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			counts[strings.Join(tokens[i:i+n], " ")]++
		}
	}
	return counts
}

// charCounts counts character n-grams of length minN..maxN over the whole document.
func charCounts(doc string, minN, maxN int) map[string]int {
	runes := []rune(doc)
	counts := make(map[string]int)
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(runes); i++ {
			counts[string(runes[i:i+n])]++
		}
	}
	return counts
}
