// Package distance provides the distance calculations used by the comparator
// layer. All functions are backed by SIMD-accelerated kernels from
// viterin/vek (AVX2 on x86-64, NEON on ARM64, optimized pure Go elsewhere).
package distance

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two
// vectors. Assumes vectors are the same length.
func SquaredL2(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

// Euclidean calculates the L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length.
func Euclidean(a, b []float32) float32 {
	return vek32.Distance(a, b)
}

// NormalizedCosine returns 1 minus the cosine similarity of two equal-length
// vectors. The result is 0 for identical directions and grows with angular
// dissimilarity. Zero vectors yield the maximum distance of 1 instead of NaN.
func NormalizedCosine(a, b []float32) float32 {
	s := vek32.CosineSimilarity(a, b)
	if math.IsNaN(float64(s)) {
		s = 0
	}
	return 1 - s
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	n := vek32.Norm(v)
	if n == 0 {
		return false
	}
	vek32.DivNumber_Inplace(v, n)
	return true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return Euclidean, nil
	case MetricCosine:
		return NormalizedCosine, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
