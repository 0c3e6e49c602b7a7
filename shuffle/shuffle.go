// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package shuffle implements the second preprocessing pass: edges are
// re-read from the input file and scattered into a P x P grid of
// on-disk block files keyed by (source partition, target partition).
//
// Each worker bucket-sorts its input buffer locally (histogram,
// exclusive prefix scan, scatter) so that every grid cell's edges form
// one contiguous slice, then appends each slice to the cell's block
// file under a per-cell lock. Slices holding a single edge are staged
// in a small per-cell coalesce buffer instead, batching many tiny
// appends into one write.
package shuffle

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/edgegrid/grid"
	"github.com/grailbio/edgegrid/ioring"
	"github.com/grailbio/edgegrid/partition"
	"github.com/ncw/directio"
	"golang.org/x/sync/errgroup"
)

// A cell is one block of the edge grid: an append-only file plus a
// coalesce buffer holding up to len(buf) bytes of single-edge appends
// not yet written through.
type cell struct {
	mu  sync.Mutex
	f   *os.File
	buf []byte
	n   int
}

// A Grid holds the open state of all P x P cells during the shuffle
// pass. Appends to distinct cells proceed in parallel; appends to the
// same cell are serialized by the cell's mutex.
type Grid struct {
	dir        string
	partitions int
	unit       int
	cells      []cell
}

// Create opens the P x P block files under dir for appending and
// returns the grid. bufSize, the coalesce buffer capacity, must be a
// positive multiple of the edge unit.
func Create(dir string, partitions, unit, bufSize int) (*Grid, error) {
	if bufSize < unit || bufSize%unit != 0 {
		return nil, errors.E(errors.Invalid, "coalesce buffer size must be a multiple of the edge unit")
	}
	g := &Grid{
		dir:        dir,
		partitions: partitions,
		unit:       unit,
		cells:      make([]cell, partitions*partitions),
	}
	for ij := range g.cells {
		f, err := os.OpenFile(grid.BlockPath(dir, ij/partitions, ij%partitions),
			os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.cells[ij].f = f
		g.cells[ij].buf = make([]byte, bufSize)
	}
	return g, nil
}

// append writes the contiguous slice b of whole edge records to cell
// ij. Slices longer than one record are written through directly; a
// single record is staged in the cell's coalesce buffer, which is
// flushed whenever it fills.
func (g *Grid) append(ij int, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	c := &g.cells[ij]
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(b) > g.unit {
		_, err := c.f.Write(b)
		return err
	}
	copy(c.buf[c.n:], b)
	c.n += g.unit
	if c.n == len(c.buf) {
		c.n = 0
		_, err := c.f.Write(c.buf)
		return err
	}
	return nil
}

// Flush writes out any coalesce buffers that still hold staged edges.
// It must be called after all shuffle workers have returned.
func (g *Grid) Flush() error {
	return traverse.Each(len(g.cells), func(ij int) error {
		c := &g.cells[ij]
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.n == 0 {
			return nil
		}
		_, err := c.f.Write(c.buf[:c.n])
		c.n = 0
		return err
	})
}

// Close closes all block files.
func (g *Grid) Close() error {
	var firstErr error
	for ij := range g.cells {
		if f := g.cells[ij].f; f != nil {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			g.cells[ij].f = nil
		}
	}
	return firstErr
}

// Shuffle streams the edge file at path through parallelism workers,
// scattering its edges into g according to the two partition maps:
// an edge (s, d) lands in block (srcMap[s], dstMap[d]). Edges with an
// endpoint outside the maps' vertex range are dropped, mirroring the
// degree scan. Shuffle returns the number of bytes of edges written
// into the grid, excluding dropped edges but including edges still
// staged in coalesce buffers.
func Shuffle(ctx context.Context, path string, g *Grid, srcMap, dstMap partition.Map, parallelism, ioSize int) (int64, error) {
	if len(srcMap) != len(dstMap) {
		return 0, errors.E(errors.Invalid, "partition maps cover different vertex ranges")
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.E("open edge file", err)
	}
	defer f.Close()

	var (
		mu      sync.Mutex
		written int64
	)
	ring := ioring.New(parallelism, ioSize)
	tasks := make(chan ioring.Task, parallelism)
	var wg errgroup.Group
	for ti := 0; ti < parallelism; ti++ {
		wg.Go(func() error {
			w := &worker{
				grid:    g,
				srcMap:  srcMap,
				dstMap:  dstMap,
				local:   directio.AlignedBlock(ioSize),
				offsets: make([]int, len(g.cells)),
				cursors: make([]int, len(g.cells)),
			}
			for task := range tasks {
				n, err := w.run(ring.Buffer(task.Slot)[:task.N])
				ring.Release(task.Slot)
				if err != nil {
					// Keep draining so the reader never blocks on a
					// full queue.
					for task := range tasks {
						ring.Release(task.Slot)
					}
					return err
				}
				mu.Lock()
				written += n
				mu.Unlock()
			}
			return nil
		})
	}
	_, err = ring.Stream(ctx, f, tasks)
	close(tasks)
	if werr := wg.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return written, errors.E(errors.Fatal, "shuffle "+path, err)
	}
	return written, nil
}

// A worker holds the scratch state reused across one worker's tasks:
// the scatter buffer and the per-cell offset and cursor tables.
type worker struct {
	grid    *Grid
	srcMap  partition.Map
	dstMap  partition.Map
	local   []byte
	offsets []int
	cursors []int
}

// run bucket-sorts one input buffer and appends each cell's slice to
// the grid. It returns the number of bytes appended.
func (w *worker) run(buf []byte) (int64, error) {
	var (
		g        = w.grid
		p        = g.partitions
		unit     = g.unit
		vertices = uint32(len(w.srcMap))
	)
	for ij := range w.offsets {
		w.offsets[ij] = 0
	}
	valid := 0
	for pos := 0; pos+unit <= len(buf); pos += unit {
		src := binary.LittleEndian.Uint32(buf[pos:])
		dst := binary.LittleEndian.Uint32(buf[pos+4:])
		if src >= vertices || dst >= vertices {
			continue
		}
		w.offsets[int(w.srcMap[src])*p+int(w.dstMap[dst])] += unit
		valid += unit
	}
	// Exclusive prefix scan: cursors become the start offsets and
	// offsets the end offsets of each cell's slice in the scatter
	// buffer.
	sum := 0
	for ij := range w.offsets {
		w.cursors[ij] = sum
		sum += w.offsets[ij]
		w.offsets[ij] = sum
	}
	if sum != valid {
		log.Panicf("shuffle: prefix scan covers %d bytes, expected %d", sum, valid)
	}
	for pos := 0; pos+unit <= len(buf); pos += unit {
		src := binary.LittleEndian.Uint32(buf[pos:])
		dst := binary.LittleEndian.Uint32(buf[pos+4:])
		if src >= vertices || dst >= vertices {
			continue
		}
		ij := int(w.srcMap[src])*p + int(w.dstMap[dst])
		copy(w.local[w.cursors[ij]:], buf[pos:pos+unit])
		w.cursors[ij] += unit
	}
	start := 0
	for ij := range w.offsets {
		if w.cursors[ij] != w.offsets[ij] {
			log.Panicf("shuffle: cell %d scattered to %d, expected %d", ij, w.cursors[ij], w.offsets[ij])
		}
		if err := g.append(ij, w.local[start:w.offsets[ij]]); err != nil {
			return int64(start), err
		}
		start = w.offsets[ij]
	}
	return int64(valid), nil
}
