package clustering

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// Policy holds the tunable parameters of assignment and verification.
type Policy struct {
	// Dimension is the required embedding length.
	Dimension int `json:"dimension"`

	// SimilarityThreshold is the distance at or above which a face is
	// considered a different identity.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// TieBreakGap and PopulationRatio control the near-tie heuristic: when the
	// runner-up is closer than TieBreakGap to the nearest cluster and holds more
	// than PopulationRatio times its members, the runner-up wins.
	TieBreakGap     float64 `json:"tie_break_gap"`
	PopulationRatio float64 `json:"population_ratio"`

	// MaxConflictRetries bounds how often Assign re-reads the event after a
	// concurrent modification.
	MaxConflictRetries int `json:"max_conflict_retries"`
}

// Defaults calibrated for the 128-dimensional extractor.
const (
	DefaultSimilarityThreshold = 0.55
	DefaultTieBreakGap         = 0.1
	DefaultPopulationRatio     = 1.5
	DefaultMaxConflictRetries  = 16
)

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Dimension:           embedding.DefaultDim,
		SimilarityThreshold: DefaultSimilarityThreshold,
		TieBreakGap:         DefaultTieBreakGap,
		PopulationRatio:     DefaultPopulationRatio,
		MaxConflictRetries:  DefaultMaxConflictRetries,
	}
}

// Validate rejects policies the engine cannot work with.
func (p Policy) Validate() error {
	var errs []error
	if p.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", p.Dimension))
	}
	if p.SimilarityThreshold <= 0 {
		errs = append(errs, fmt.Errorf("similarity threshold must be positive, got %g", p.SimilarityThreshold))
	}
	if p.TieBreakGap < 0 {
		errs = append(errs, fmt.Errorf("tie-break gap must not be negative, got %g", p.TieBreakGap))
	}
	if p.PopulationRatio <= 0 {
		errs = append(errs, fmt.Errorf("population ratio must be positive, got %g", p.PopulationRatio))
	}
	if p.MaxConflictRetries < 0 {
		errs = append(errs, fmt.Errorf("max conflict retries must not be negative, got %d", p.MaxConflictRetries))
	}
	return errors.Join(errs...)
}
