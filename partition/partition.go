// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package partition maps vertex IDs to grid partitions. Partitions
// are contiguous vertex ranges chosen so that the degree mass covered
// by each partition is approximately total/partitions.
package partition

// A Map assigns each vertex ID a partition in [0, partitions). The
// assignment is monotone non-decreasing in vertex ID, so every
// partition is a contiguous interval of vertex IDs.
type Map []int32

// Balance greedily assigns vertices, in ID order, to partitions so
// that each partition's degree sum approximates total/partitions.
// Before a vertex would push the running sum past the target, the
// current partition is closed early iff the resulting undershoot does
// not exceed the overshoot of including the vertex. The last partition
// absorbs all remaining vertices regardless of overshoot.
//
// While the running sum is at or below the target, zero-degree
// vertices never trigger a split; they extend the current partition.
// Once the running sum has overshot the target, the next vertex opens a
// new partition (unless the current one is the last) whatever its
// degree. partitions must be at least 1.
func Balance(degrees []uint32, partitions int, total int64) Map {
	m := make(Map, len(degrees))
	if len(degrees) == 0 {
		return m
	}
	target := total / int64(partitions)
	var (
		cur int32
		acc int64
	)
	for v, d := range degrees {
		if int(cur) < partitions-1 && acc+int64(d) > target {
			over := acc + int64(d) - target
			under := target - acc
			if under <= over {
				cur++
				acc = 0
			}
		}
		m[v] = cur
		acc += int64(d)
	}
	return m
}

// Sums returns the per-partition degree sums under the map.
func (m Map) Sums(degrees []uint32, partitions int) []int64 {
	sums := make([]int64, partitions)
	for v, p := range m {
		sums[p] += int64(degrees[v])
	}
	return sums
}
