package core

// VectorID is a position-based handle into a specific vector collection.
// It is only meaningful relative to the collection that produced it: a
// VectorID is valid iff it is smaller than that collection's record count.
type VectorID uint64

// Widths of the two supported product-quantization sub-spaces. A centroid of
// width W summarizes one W-sized chunk of an embedding.
const (
	WidthNarrow = 16
	WidthWide   = 32
)
