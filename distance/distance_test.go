package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEuclidean(t *testing.T) {
	a := []float32{1, 1, 0, 0}
	b := []float32{0, 0, 1, 1}

	assert.InDelta(t, 2.0, Euclidean(a, b), 1e-5)
	assert.InDelta(t, 0.0, Euclidean(a, a), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	// (3)^2 + (4)^2 = 25
	assert.InDelta(t, 25.0, SquaredL2(a, b), 1e-4)
	assert.InDelta(t, SquaredL2(a, b), SquaredL2(b, a), 1e-5)
}

func TestNormalizedCosine(t *testing.T) {
	a := []float32{1, 0}

	assert.InDelta(t, 0.0, NormalizedCosine(a, a), 1e-6)
	assert.InDelta(t, 1.0, NormalizedCosine(a, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2.0, NormalizedCosine(a, []float32{-1, 0}), 1e-6)

	// Zero vectors must not poison the result with NaN.
	assert.InDelta(t, 1.0, NormalizedCosine(a, []float32{0, 0}), 1e-6)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func TestProvider(t *testing.T) {
	fn, err := Provider(MetricL2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, fn([]float32{0, 0}, []float32{3, 4}), 1e-5)

	fn, err = Provider(MetricCosine)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fn([]float32{1, 2}, []float32{2, 4}), 1e-5)

	_, err = Provider(Metric(99))
	assert.Error(t, err)
}

func TestMetricString(t *testing.T) {
	assert.Equal(t, "L2", MetricL2.String())
	assert.Equal(t, "Cosine", MetricCosine.String())
	assert.Equal(t, "Unknown(99)", Metric(99).String())
}
