// Package quiver is the comparator and product-quantization core of an
// approximate-nearest-neighbor vector search engine.
//
// It defines how high-dimensional embeddings are compared, compressed and kept
// consistent with derived compressed representations as new vectors arrive:
//
//   - comparator: the distance-comparison contract shared by raw and
//     compressed vector spaces, including the memoized centroid
//     partial-distance engine that turns O(d) pairwise distances into O(1)
//     table lookups.
//   - quantizer: the trained nearest-centroid quantizer produced by PQ
//     training.
//   - domain: the append-only primary vector store together with its derived
//     (quantized) domains, extended in lockstep.
//   - vectorfile: the fixed-record, append-only vector file all of the above
//     persist into.
//
// The root package provides Store, which owns a data directory and the
// mapping from domain name to open domain. Graph search over a comparator is
// intentionally out of scope; the hnsw package is only as much graph as the
// quantization pipeline needs.
package quiver
