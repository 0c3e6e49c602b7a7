// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package grid defines the on-disk layout of a preprocessed edge
// grid: the per-cell block files, the row- and column-major aggregate
// streams with their offset indexes, and the meta record. Downstream
// engines map a cell to its byte range by reading two consecutive
// entries of an offset index.
package grid

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/ncw/directio"
)

// Names of the aggregate files inside an output directory.
const (
	RowFile          = "row"
	RowOffsetFile    = "row_offset"
	ColumnFile       = "column"
	ColumnOffsetFile = "column_offset"
	MetaFile         = "meta"
)

// BlockName returns the file name of grid cell (i, j).
func BlockName(i, j int) string {
	return fmt.Sprintf("block-%d-%d", i, j)
}

// BlockPath returns the path of grid cell (i, j) under dir.
func BlockPath(dir string, i, j int) string {
	return filepath.Join(dir, BlockName(i, j))
}

// Meta describes a preprocessed grid. Edges is the total record count
// of the input file, including any out-of-range edges that were
// dropped from the grid itself.
type Meta struct {
	EdgeType   int
	Vertices   uint32
	Edges      int64
	Partitions int
}

// WriteMeta writes m into dir as a single ASCII line of four
// space-separated integers.
func WriteMeta(dir string, m Meta) error {
	f, err := os.Create(filepath.Join(dir, MetaFile))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d %d %d %d", m.EdgeType, m.Vertices, m.Edges, m.Partitions); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadMeta parses the meta record in dir.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	f, err := os.Open(filepath.Join(dir, MetaFile))
	if err != nil {
		return m, err
	}
	defer f.Close()
	if _, err := fmt.Fscanf(f, "%d %d %d %d", &m.EdgeType, &m.Vertices, &m.Edges, &m.Partitions); err != nil {
		return m, errors.E(errors.Invalid, "parse meta", err)
	}
	return m, nil
}

// Concat builds the two aggregate streams from the P x P block files
// in dir: "column" concatenates blocks column-major (outer j, inner
// i), "row" concatenates them row-major. Alongside each stream it
// writes an offset index of P*P+1 little-endian int64s; entry k is the
// byte offset of the k-th block in iteration order and the final entry
// is the stream length. The block files are left in place.
func Concat(dir string, partitions, ioSize int) error {
	buf := directio.AlignedBlock(ioSize)
	err := appendBlocks(dir, partitions, buf, ColumnFile, ColumnOffsetFile, func(k int) (i, j int) {
		return k % partitions, k / partitions
	})
	if err != nil {
		return err
	}
	return appendBlocks(dir, partitions, buf, RowFile, RowOffsetFile, func(k int) (i, j int) {
		return k / partitions, k % partitions
	})
}

func appendBlocks(dir string, partitions int, buf []byte, name, offsetName string, cell func(k int) (i, j int)) error {
	out, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	offsets, err := os.OpenFile(filepath.Join(dir, offsetName), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer offsets.Close()

	var (
		offset  int64
		scratch [8]byte
	)
	writeOffset := func() error {
		binary.LittleEndian.PutUint64(scratch[:], uint64(offset))
		_, err := offsets.Write(scratch[:])
		return err
	}
	for k := 0; k < partitions*partitions; k++ {
		if err := writeOffset(); err != nil {
			return err
		}
		i, j := cell(k)
		n, err := appendFile(out, BlockPath(dir, i, j), buf)
		if err != nil {
			return errors.E(errors.Fatal, "concatenate "+BlockName(i, j), err)
		}
		offset += n
	}
	return writeOffset()
}

func appendFile(out *os.File, path string, buf []byte) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	var total int64
	for {
		n, err := in.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, werr := out.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// ReadOffsets reads an offset index written by Concat. A grid of P
// partitions yields P*P+1 offsets.
func ReadOffsets(path string) ([]int64, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b)%8 != 0 {
		return nil, errors.E(errors.Invalid, "offset file size is not a multiple of 8: "+path)
	}
	offsets := make([]int64, len(b)/8)
	for i := range offsets {
		offsets[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return offsets, nil
}
