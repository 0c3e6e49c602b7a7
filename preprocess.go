// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package edgegrid

import (
	"context"
	"os"
	"time"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/edgegrid/degree"
	"github.com/grailbio/edgegrid/grid"
	"github.com/grailbio/edgegrid/partition"
	"github.com/grailbio/edgegrid/shuffle"
)

// Options configures a preprocessing run.
type Options struct {
	// Input is the path of the binary edge file. Its length must be a
	// multiple of the edge unit.
	Input string
	// Output is the directory into which the grid is written. It is
	// removed and recreated at the start of the run.
	Output string
	// Vertices is the number of vertices V; vertex IDs are [0, V).
	Vertices uint32
	// Partitions is the grid dimension P. If nonpositive, it defaults
	// to Vertices/ChunkSize, and at least 1.
	Partitions int
	// Type selects the edge record layout.
	Type EdgeType
	// Config holds tuning knobs; zero fields select defaults.
	Config Config
}

// Preprocess runs the full pipeline: a degree-counting pass over the
// input, construction of the two degree-balanced partition maps, a
// shuffle pass that scatters edges into the P x P block grid, and
// finally concatenation into the row- and column-major streams with
// their offset indexes and the meta record.
//
// The source axis is partitioned by out-degree and the target axis by
// in-degree; the two maps generally differ.
func Preprocess(ctx context.Context, opts Options) error {
	unit := opts.Type.Unit()
	if unit == 0 {
		return errors.E(errors.Invalid, "unsupported edge type")
	}
	if opts.Vertices == 0 {
		return errors.E(errors.Invalid, "graph must have at least one vertex")
	}
	cfg := opts.Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	partitions := opts.Partitions
	if partitions <= 0 {
		partitions = int(opts.Vertices) / cfg.ChunkSize
		if partitions < 1 {
			partitions = 1
		}
	}

	if err := os.RemoveAll(opts.Output); err != nil {
		return err
	}
	if err := os.MkdirAll(opts.Output, 0755); err != nil {
		return err
	}

	start := time.Now()
	counts, err := degree.Scan(ctx, opts.Input, opts.Vertices, unit, cfg.Parallelism, cfg.IOSize)
	if err != nil {
		return err
	}
	log.Printf("degree scan: %d vertices, %d edges in %s",
		opts.Vertices, counts.Edges, time.Since(start))
	if err := counts.Write(opts.Output); err != nil {
		return err
	}

	srcMap := partition.Balance(counts.Out, partitions, counts.Edges)
	dstMap := partition.Balance(counts.In, partitions, counts.Edges)

	start = time.Now()
	g, err := shuffle.Create(opts.Output, partitions, unit, cfg.GridBufferSize)
	if err != nil {
		return err
	}
	written, err := shuffle.Shuffle(ctx, opts.Input, g, srcMap, dstMap, cfg.Parallelism, cfg.IOSize)
	if err != nil {
		g.Close()
		return err
	}
	if err := g.Flush(); err != nil {
		g.Close()
		return err
	}
	if err := g.Close(); err != nil {
		return err
	}
	log.Printf("shuffle: %s into %d x %d blocks in %s",
		data.Size(written), partitions, partitions, time.Since(start))

	start = time.Now()
	if err := grid.Concat(opts.Output, partitions, cfg.IOSize); err != nil {
		return err
	}
	log.Printf("concatenate: row and column streams in %s", time.Since(start))

	return grid.WriteMeta(opts.Output, grid.Meta{
		EdgeType:   int(opts.Type),
		Vertices:   opts.Vertices,
		Edges:      counts.Edges,
		Partitions: partitions,
	})
}
