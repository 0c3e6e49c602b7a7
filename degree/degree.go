// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package degree implements the first preprocessing pass: a parallel
// scan of the edge file that accumulates per-vertex in- and
// out-degrees, and the persister that writes the degree arrays next to
// the grid for downstream consumers.
package degree

import (
	"context"
	"encoding/binary"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/edgegrid/ioring"
	"golang.org/x/sync/errgroup"
)

// Names of the persisted degree arrays inside the output directory.
const (
	OutFile = "out_degree_preprocess.data"
	InFile  = "in_degree_preprocess.data"
)

// Counts holds the result of a degree scan. Out[v] and In[v] are the
// out- and in-degree of vertex v, counting only edges whose endpoints
// are both within range. Edges is the total record count of the input
// file, including out-of-range edges.
type Counts struct {
	Out, In []uint32
	Edges   int64
}

// Scan reads the edge file at path and accumulates degrees for
// vertices [0, vertices). unit is the edge record size; parallelism
// workers parse buffers of ioSize bytes each. Edges with either
// endpoint out of range are skipped.
func Scan(ctx context.Context, path string, vertices uint32, unit, parallelism, ioSize int) (*Counts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E("open edge file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size()%int64(unit) != 0 {
		return nil, errors.E(errors.Invalid, "edge file size is not a multiple of the edge unit")
	}
	c := &Counts{
		Out:   make([]uint32, vertices),
		In:    make([]uint32, vertices),
		Edges: info.Size() / int64(unit),
	}

	ring := ioring.New(parallelism, ioSize)
	tasks := make(chan ioring.Task, parallelism)
	var g errgroup.Group
	for ti := 0; ti < parallelism; ti++ {
		g.Go(func() error {
			for task := range tasks {
				buf := ring.Buffer(task.Slot)[:task.N]
				for pos := 0; pos+unit <= len(buf); pos += unit {
					src := binary.LittleEndian.Uint32(buf[pos:])
					dst := binary.LittleEndian.Uint32(buf[pos+4:])
					if src < vertices && dst < vertices {
						atomic.AddUint32(&c.Out[src], 1)
						atomic.AddUint32(&c.In[dst], 1)
					}
				}
				ring.Release(task.Slot)
			}
			return nil
		})
	}
	_, err = ring.Stream(ctx, f, tasks)
	close(tasks)
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return nil, errors.E(errors.Fatal, "degree scan "+path, err)
	}
	return c, nil
}

// Write persists both degree arrays into dir as raw little-endian
// uint32 blobs.
func (c *Counts) Write(dir string) error {
	if err := WriteFile(filepath.Join(dir, OutFile), c.Out); err != nil {
		return err
	}
	return WriteFile(filepath.Join(dir, InFile), c.In)
}

// WriteFile writes counts to path as len(counts)*4 bytes of
// little-endian uint32s.
func WriteFile(path string, counts []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := make([]byte, 64<<10)
	for len(counts) > 0 {
		n := len(buf) / 4
		if n > len(counts) {
			n = len(counts)
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[4*i:], counts[i])
		}
		if _, err := f.Write(buf[:4*n]); err != nil {
			f.Close()
			return err
		}
		counts = counts[n:]
	}
	return f.Close()
}

// ReadFile reads a degree array previously written by WriteFile.
func ReadFile(path string) ([]uint32, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, errors.E(errors.Invalid, "degree file size is not a multiple of 4: "+path)
	}
	counts := make([]uint32, len(b)/4)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return counts, nil
}
