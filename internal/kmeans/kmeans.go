// Package kmeans implements deterministic k-means clustering for
// product-quantization training.
package kmeans

import (
	"errors"
	"math"
	"math/rand"

	"github.com/quiverdb/quiver/distance"
)

// ErrNoData is returned when no observations are supplied.
var ErrNoData = errors.New("kmeans: no observations to cluster")

// Train clusters the flattened observations (n * dim scalars) into at most k
// centroids using Lloyd's algorithm with kmeans++ seeding. The PRNG is seeded
// explicitly, so repeated training on the same observations is reproducible.
// If there are no more than k observations, the observations themselves are
// returned as centroids.
func Train(data []float32, dim, k, maxIter int, seed int64) ([][]float32, error) {
	if dim <= 0 || len(data)%dim != 0 {
		return nil, errors.New("kmeans: observation length is not a multiple of dimension")
	}

	n := len(data) / dim
	if n == 0 {
		return nil, ErrNoData
	}

	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = data[i*dim : (i+1)*dim]
	}

	if n <= k {
		out := make([][]float32, n)
		for i, v := range vectors {
			out[i] = append([]float32(nil), v...)
		}
		return out, nil
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := seedPlusPlus(vectors, k, dim, rng)

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i, vec := range vectors {
			best := nearest(vec, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for d, v := range vec {
				sums[c*dim+d] += v
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c*dim+d] / float32(counts[c])
			}
		}
	}

	return centroids, nil
}

// seedPlusPlus chooses k initial centroids with probability proportional to
// the squared distance from the already-chosen set.
func seedPlusPlus(vectors [][]float32, k, dim int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}

	copy(centroids[0], vectors[rng.Intn(len(vectors))])

	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, vec := range vectors {
		d := distance.SquaredL2(vec, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], vectors[rng.Intn(len(vectors))])
			continue
		}

		target := rng.Float32() * sum
		var cumsum float32
		chosen := 0
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, vec := range vectors {
			d := distance.SquaredL2(vec, centroids[c])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	return centroids
}

func nearest(vec []float32, centroids [][]float32) int {
	best := 0
	minDist := float32(math.MaxFloat32)

	for i, c := range centroids {
		d := distance.SquaredL2(vec, c)
		if d < minDist {
			minDist = d
			best = i
		}
	}

	return best
}
