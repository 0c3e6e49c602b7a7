// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package edgegrid implements an out-of-core preprocessor that turns a
// raw binary edge list into a 2-D grid of edge blocks on disk. The
// grid is partitioned on both axes: block (i, j) holds the edges whose
// source vertex falls in source partition i and whose destination
// vertex falls in target partition j. Partition boundaries are chosen
// so that the total degree covered by each partition is approximately
// equal.
//
// Preprocessing makes two streaming passes over the input. The first
// pass computes per-vertex in- and out-degrees; the second shuffles
// edges into the P x P grid. Both passes run a single reader feeding a
// pool of workers through a ring of reusable page-aligned buffers, so
// memory use is bounded by the buffer pool and the O(V) degree and
// partition arrays, independent of the number of edges.
//
// All multi-byte on-disk integers are little-endian. On the platforms
// this package targets this coincides with the host byte order of the
// original format; the files are not portable to big-endian hosts.
package edgegrid

// Sizes of the fixed-width fields of an edge record. Weights are
// 4-byte IEEE-754; the weighted record layout is src, dst, weight.
const (
	VertexSize = 4
	WeightSize = 4
)

// EdgeType selects the on-disk edge record layout.
type EdgeType int

const (
	// Unweighted records are two 32-bit vertex IDs, 8 bytes.
	Unweighted EdgeType = 0
	// Weighted records carry a 32-bit float weight after the vertex
	// IDs, 12 bytes.
	Weighted EdgeType = 1
)

// Unit returns the byte size of one edge record of type t, or 0 if t
// is not a valid edge type.
func (t EdgeType) Unit() int {
	switch t {
	case Unweighted:
		return 2 * VertexSize
	case Weighted:
		return 2*VertexSize + WeightSize
	}
	return 0
}

func (t EdgeType) String() string {
	switch t {
	case Unweighted:
		return "unweighted"
	case Weighted:
		return "weighted"
	}
	return "unknown"
}
