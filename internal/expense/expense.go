package expense

// TrainingExample is one labeled description used to fit a model.
type TrainingExample struct {
	// Text is the raw expense description
	Text string `json:"text" yaml:"text"`

	// Category is the normalized category label
	Category string `json:"category" yaml:"category"`
}

// Correction is a user override of a prediction.
// Corrections are append-only: they are never updated, merged or deleted automatically.
type Correction struct {
	// ID is a ULID assigned on insert
	ID string `json:"id"`

	// Text is the description as the user entered it
	Text string `json:"text"`

	// CorrectCategory is the normalized category the user asserted
	CorrectCategory string `json:"correct_category"`

	// CreatedAt is the Unix timestamp when the correction was recorded
	CreatedAt int64 `json:"created_at"`
}

// Example converts the correction into a training row.
func (c Correction) Example() TrainingExample {
	return TrainingExample{Text: c.Text, Category: c.CorrectCategory}
}

// ConfidenceLevel buckets a score into high, medium or low.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Prediction reasons.
const (
	ReasonPredicted         = "predicted from features"
	ReasonLowConfidence     = "low confidence fallback"
	ReasonMatchedCorrection = "matched user correction"
)

// PredictionResult is the outcome of classifying one description.
// It is transient; persisting it is the caller's concern.
type PredictionResult struct {
	InputText       string          `json:"input_text"`
	Category        string          `json:"category"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`

	// Score is the reported confidence in [0,1]. It is 1.0 for a matched
	// correction; ModelScore keeps the raw model probability.
	Score float64 `json:"score"`

	// ModelCategory and ModelScore are the raw argmax of the model,
	// before fallback or correction overrides.
	ModelCategory string  `json:"model_category"`
	ModelScore    float64 `json:"model_score"`

	Reason        string             `json:"reason"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	// Version is the artifact version that produced the result
	Version int `json:"version"`
}
