package hnsw

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/quiverdb/quiver/distance"
)

// Compile time checks to ensure Index satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*Index)(nil)
	_ gob.GobDecoder = (*Index)(nil)
)

// GobEncode serializes the graph structure together with its construction
// options. The distance function itself is not encoded; it is re-resolved
// from the metric on decode.
func (ix *Index) GobEncode() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(ix.dim); err != nil {
		return nil, err
	}

	if err := encoder.Encode(ix.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(ix.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(ix.opts); err != nil {
		return nil, err
	}

	if err := encoder.Encode(ix.nodes); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores a serialized graph, resolving the distance function
// from the encoded metric.
func (ix *Index) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&ix.dim); err != nil {
		return err
	}

	if err := decoder.Decode(&ix.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&ix.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&ix.opts); err != nil {
		return err
	}

	if err := decoder.Decode(&ix.nodes); err != nil {
		return err
	}

	dist, err := distance.Provider(ix.opts.Metric)
	if err != nil {
		return err
	}

	ix.dist = dist
	ix.mmax = ix.opts.M
	ix.mmax0 = 2 * ix.opts.M
	ix.ml = 1 / math.Log(float64(ix.opts.M))
	ix.rng = rand.New(rand.NewSource(ix.opts.Seed))

	return nil
}
