// Package embedding provides the vector arithmetic shared by the clustering
// engine and the storage backends: Euclidean distance, incremental means and
// dimension checks.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultDim is the dimensionality produced by the default face extractor.
const DefaultDim = 128

// ErrDimensionMismatch is returned when two vectors (or a vector and the
// configured dimensionality) disagree in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrNotFinite is returned for vectors containing NaN or infinite components.
var ErrNotFinite = errors.New("embedding component is not a finite number")

// Vector is a fixed-length face embedding.
type Vector []float64

// Dim returns the number of components.
func (v Vector) Dim() int {
	return len(v)
}

// Clone returns a copy that shares no memory with v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Float32 converts the vector for storage layers that only speak float32
// (pgvector, HNSW).
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// FromFloat32 widens a float32 slice into a Vector.
func FromFloat32(in []float32) Vector {
	out := make(Vector, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

// CheckDim verifies that v has exactly dim components and only finite values.
func CheckDim(v Vector, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d", ErrNotFinite, i)
		}
	}
	return nil
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(a, b, 2), nil
}

// RunningMean folds x into a mean computed over n previous members:
// (mean*n + x) / (n+1). The result is a new vector; mean is not modified.
func RunningMean(mean Vector, n int, x Vector) (Vector, error) {
	if len(mean) != len(x) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(mean), len(x))
	}
	if n < 1 {
		return nil, fmt.Errorf("member count must be positive, got %d", n)
	}
	out := make(Vector, len(mean))
	floats.ScaleTo(out, float64(n), mean)
	floats.Add(out, x)
	floats.Scale(1/float64(n+1), out)
	return out, nil
}
