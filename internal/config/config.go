package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	spenderrors "github.com/hpungsan/spendcat/internal/errors"
)

// Config holds application configuration.
type Config struct {
	// ConfidenceThreshold is the minimum top-class probability trusted as a prediction.
	// Below it the result is forced to FallbackCategory.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// HighConfidence and MediumConfidence are the breakpoints for confidence levels:
	// score >= HighConfidence is "high", score >= MediumConfidence is "medium", else "low".
	HighConfidence   float64 `json:"high_confidence"`
	MediumConfidence float64 `json:"medium_confidence"`

	// FallbackCategory is the catch-all label. It is always part of a model's category set.
	FallbackCategory string `json:"fallback_category"`

	Features FeaturesConfig `json:"features"`
	Training TrainingConfig `json:"training"`

	// ArtifactsKeep is how many inactive model versions are retained after a retrain.
	// 0 keeps everything.
	ArtifactsKeep int `json:"artifacts_keep,omitempty"`

	// SeedPath is an optional .yaml or .csv seed corpus used when the examples table is empty.
	// When unset the embedded default seed is used.
	SeedPath string `json:"seed_path,omitempty"`

	// RetrainSchedule is a 5-field cron expression. When set, the MCP server retrains on schedule.
	RetrainSchedule string `json:"retrain_schedule,omitempty"`

	Log LogConfig `json:"log"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.spendcat/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// FeaturesConfig controls the feature extractor.
type FeaturesConfig struct {
	// MinDF drops terms that occur in fewer documents than this.
	MinDF int `json:"min_df"`

	// MinDFMinDocs is the corpus size from which MinDF applies.
	// Smaller corpora keep every term.
	MinDFMinDocs int `json:"min_df_min_docs"`

	WordNgramMax int `json:"word_ngram_max"`
	CharNgramMin int `json:"char_ngram_min"`
	CharNgramMax int `json:"char_ngram_max"`
}

// TrainingConfig controls classifier fitting and holdout evaluation.
type TrainingConfig struct {
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`

	// HoldoutFraction of the corpus is held out to produce an evaluation report.
	// The shipped model is always fit on the full corpus.
	HoldoutFraction float64 `json:"holdout_fraction"`

	// Seed makes the holdout split reproducible.
	Seed int64 `json:"seed"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.45,
		HighConfidence:      0.75,
		MediumConfidence:    0.50,
		FallbackCategory:    "other",
		Features: FeaturesConfig{
			MinDF:        2,
			MinDFMinDocs: 200,
			WordNgramMax: 2,
			CharNgramMin: 3,
			CharNgramMax: 5,
		},
		Training: TrainingConfig{
			Iterations:      400,
			LearningRate:    1.0,
			L2:              1e-4,
			HoldoutFraction: 0.2,
			Seed:            42,
		},
		ArtifactsKeep: 5,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks value ranges and breakpoint ordering.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return spenderrors.NewInvalidRequest(fmt.Sprintf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.MediumConfidence < 0 || c.HighConfidence > 1 || c.MediumConfidence > c.HighConfidence {
		return spenderrors.NewInvalidRequest(fmt.Sprintf(
			"confidence breakpoints must satisfy 0 <= medium <= high <= 1, got medium=%v high=%v",
			c.MediumConfidence, c.HighConfidence))
	}
	if strings.TrimSpace(c.FallbackCategory) == "" {
		return spenderrors.NewInvalidRequest("fallback_category must not be empty")
	}
	f := c.Features
	if f.MinDF < 1 || f.WordNgramMax < 1 || f.CharNgramMin < 1 || f.CharNgramMax < f.CharNgramMin {
		return spenderrors.NewInvalidRequest("features: min_df, word_ngram_max, char_ngram_min must be >= 1 and char_ngram_max >= char_ngram_min")
	}
	tr := c.Training
	if tr.Iterations < 1 || tr.LearningRate <= 0 || tr.L2 < 0 {
		return spenderrors.NewInvalidRequest("training: iterations >= 1, learning_rate > 0, l2 >= 0 required")
	}
	if tr.HoldoutFraction < 0 || tr.HoldoutFraction >= 1 {
		return spenderrors.NewInvalidRequest(fmt.Sprintf("training.holdout_fraction must be in [0,1), got %v", tr.HoldoutFraction))
	}
	if c.ArtifactsKeep < 0 {
		return spenderrors.NewInvalidRequest("artifacts_keep must be >= 0")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.spendcat.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.spendcat) and repo (.spendcat) directories.
// Repo config is found by walking upward from startDir to find the nearest .spendcat/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .spendcat/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".spendcat", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars when non-zero; arrays are merged and deduplicated.
// A zero scalar in the overlay means "unset", so it cannot override a non-zero base value.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.ConfidenceThreshold = pickFloat(overlay.ConfidenceThreshold, base.ConfidenceThreshold)
	result.HighConfidence = pickFloat(overlay.HighConfidence, base.HighConfidence)
	result.MediumConfidence = pickFloat(overlay.MediumConfidence, base.MediumConfidence)
	result.FallbackCategory = pickString(overlay.FallbackCategory, base.FallbackCategory)

	result.Features = FeaturesConfig{
		MinDF:        pickInt(overlay.Features.MinDF, base.Features.MinDF),
		MinDFMinDocs: pickInt(overlay.Features.MinDFMinDocs, base.Features.MinDFMinDocs),
		WordNgramMax: pickInt(overlay.Features.WordNgramMax, base.Features.WordNgramMax),
		CharNgramMin: pickInt(overlay.Features.CharNgramMin, base.Features.CharNgramMin),
		CharNgramMax: pickInt(overlay.Features.CharNgramMax, base.Features.CharNgramMax),
	}
	result.Training = TrainingConfig{
		Iterations:      pickInt(overlay.Training.Iterations, base.Training.Iterations),
		LearningRate:    pickFloat(overlay.Training.LearningRate, base.Training.LearningRate),
		L2:              pickFloat(overlay.Training.L2, base.Training.L2),
		HoldoutFraction: pickFloat(overlay.Training.HoldoutFraction, base.Training.HoldoutFraction),
		Seed:            overlay.Training.Seed,
	}
	if result.Training.Seed == 0 {
		result.Training.Seed = base.Training.Seed
	}

	result.ArtifactsKeep = pickInt(overlay.ArtifactsKeep, base.ArtifactsKeep)
	result.SeedPath = pickString(overlay.SeedPath, base.SeedPath)
	result.RetrainSchedule = pickString(overlay.RetrainSchedule, base.RetrainSchedule)
	result.Log = LogConfig{
		Level:  pickString(overlay.Log.Level, base.Log.Level),
		Format: pickString(overlay.Log.Format, base.Log.Format),
	}

	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
