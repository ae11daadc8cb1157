package corpus

import (
	"context"

	"github.com/hpungsan/spendcat/internal/expense"
)

// Corpus is the combined training set for one retrain.
type Corpus struct {
	Examples []expense.TrainingExample

	// Memory maps normalized text to the latest corrected category.
	Memory map[string]string

	SeedExamples int
	Corrections  int
	SourceName   string
}

// PerCategory counts examples by category.
func (c *Corpus) PerCategory() map[string]int {
	out := make(map[string]int)
	for _, ex := range c.Examples {
		out[ex.Category]++
	}
	return out
}

// Labels returns texts and categories as parallel slices.
func (c *Corpus) Labels() (texts, labels []string) {
	texts = make([]string, len(c.Examples))
	labels = make([]string, len(c.Examples))
	for i, ex := range c.Examples {
		texts[i], labels[i] = ex.Text, ex.Category
	}
	return texts, labels
}

// Build combines seed examples with corrections. Corrections win: a seed row whose
// normalized text was corrected takes the latest corrected category, and every
// correction is also added as its own row. corrections must be in insertion order.
func Build(ctx context.Context, seed Source, corrections []expense.Correction) (*Corpus, error) {
	var (
		examples []expense.TrainingExample
		name     string
	)
	if seed != nil {
		var err error
		if chain, ok := seed.(Chain); ok {
			var src Source
			src, examples, err = chain.Resolve(ctx)
			if src != nil {
				name = src.Name()
			}
		} else {
			examples, err = seed.Iterate(ctx)
			name = seed.Name()
		}
		if err != nil {
			return nil, err
		}
	}

	memory := make(map[string]string)
	corrected := make([]expense.TrainingExample, 0, len(corrections))
	for _, c := range corrections {
		category := expense.NormalizeCategory(c.CorrectCategory)
		if expense.IsBlank(c.Text) || category == "" {
			continue
		}
		memory[expense.Normalize(c.Text)] = category
		corrected = append(corrected, expense.TrainingExample{Text: c.Text, Category: category})
	}

	out := make([]expense.TrainingExample, 0, len(examples)+len(corrected))
	for _, ex := range examples {
		if category, ok := memory[expense.Normalize(ex.Text)]; ok {
			ex.Category = category
		}
		out = append(out, ex)
	}
	out = append(out, corrected...)

	return &Corpus{
		Examples:     out,
		Memory:       memory,
		SeedExamples: len(examples),
		Corrections:  len(corrected),
		SourceName:   name,
	}, nil
}
