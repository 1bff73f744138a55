// Package vecmath holds the similarity primitives shared by the memory
// components: cosine similarity with strict dimension checks, the logistic
// squashing used by fusion, and exponential temporal decay.
package vecmath

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned whenever two embeddings that must share a
// dimension do not.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionError carries the two dimensions involved in a mismatch.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Unwrap lets errors.Is match ErrDimensionMismatch.
func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}

// CheckDimension returns a *DimensionError when got differs from want.
func CheckDimension(want, got int) error {
	if want != got {
		return &DimensionError{Want: want, Got: got}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b. Zero-norm vectors score 0.
func Cosine(a, b []float64) (float64, error) {
	if err := CheckDimension(len(a), len(b)); err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 0, nil
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return floats.Dot(a, b) / (normA * normB), nil
}

// Clamp01 limits v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// LambdaForHalfLife converts a half-life into a per-millisecond decay constant.
func LambdaForHalfLife(halfLife time.Duration) float64 {
	ms := float64(halfLife.Milliseconds())
	if ms <= 0 {
		return 0
	}
	return math.Ln2 / ms
}

// Decay returns exp(-lambda * age) for an age in milliseconds. Negative ages
// (clock skew, future timestamps) count as zero.
func Decay(lambda float64, ageMs int64) float64 {
	if ageMs <= 0 || lambda <= 0 {
		return 1
	}
	return math.Exp(-lambda * float64(ageMs))
}
