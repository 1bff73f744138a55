package vecmath

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	_, err := Cosine([]float64{1, 2}, []float64{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected *DimensionError, got %T", err)
	}
	if dimErr.Want != 2 || dimErr.Got != 3 {
		t.Errorf("got want=%d got=%d", dimErr.Want, dimErr.Got)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0.3: 0.3, 1.7: 1, math.NaN(): 0}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDecay(t *testing.T) {
	lambda := LambdaForHalfLife(time.Minute)

	if got := Decay(lambda, 0); got != 1 {
		t.Errorf("Decay at age 0 = %f, want 1", got)
	}
	if got := Decay(lambda, 60_000); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Decay at one half-life = %f, want 0.5", got)
	}
	if got := Decay(lambda, -100); got != 1 {
		t.Errorf("future timestamp should not decay, got %f", got)
	}

	prev := 1.0
	for age := int64(0); age <= 600_000; age += 10_000 {
		d := Decay(lambda, age)
		if d > prev {
			t.Fatalf("decay increased at age %d: %f > %f", age, d, prev)
		}
		prev = d
	}
}

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); got != 0.5 {
		t.Errorf("Sigmoid(0) = %f", got)
	}
	if Sigmoid(50) > 1 || Sigmoid(-50) < 0 {
		t.Error("sigmoid escaped [0,1]")
	}
}
