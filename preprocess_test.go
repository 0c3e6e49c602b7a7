// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package edgegrid

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/grailbio/edgegrid/degree"
	"github.com/grailbio/edgegrid/grid"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

type edge struct {
	src, dst uint32
	weight   float32
}

func writeEdgeFile(t *testing.T, path string, typ EdgeType, edges []edge) {
	t.Helper()
	var buf []byte
	var record [12]byte
	for _, e := range edges {
		binary.LittleEndian.PutUint32(record[0:], e.src)
		binary.LittleEndian.PutUint32(record[4:], e.dst)
		if typ == Weighted {
			binary.LittleEndian.PutUint32(record[8:], math.Float32bits(e.weight))
		}
		buf = append(buf, record[:typ.Unit()]...)
	}
	if err := ioutil.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig() Config {
	return Config{Parallelism: 2, IOSize: 64 << 10}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func TestPreprocess(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	input := filepath.Join(dir, "edges")
	writeEdgeFile(t, input, Unweighted, []edge{
		{src: 0, dst: 1}, {src: 0, dst: 2}, {src: 1, dst: 3}, {src: 2, dst: 3}, {src: 3, dst: 0},
	})
	out := filepath.Join(dir, "grid")
	err := Preprocess(context.Background(), Options{
		Input:      input,
		Output:     out,
		Vertices:   4,
		Partitions: 2,
		Type:       Unweighted,
		Config:     testConfig(),
	})
	assert.NoError(t, err)

	outDeg, err := degree.ReadFile(filepath.Join(out, degree.OutFile))
	assert.NoError(t, err)
	if got, want := outDeg, []uint32{2, 1, 1, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	inDeg, err := degree.ReadFile(filepath.Join(out, degree.InFile))
	assert.NoError(t, err)
	if got, want := inDeg, []uint32{1, 1, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// All five edges land somewhere in the grid.
	var blocks int64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			blocks += fileSize(t, grid.BlockPath(out, i, j))
		}
	}
	if got, want := blocks, int64(40); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := fileSize(t, filepath.Join(out, grid.RowFile)), blocks; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := fileSize(t, filepath.Join(out, grid.ColumnFile)), blocks; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// The offset indexes agree with the individual block sizes, and
	// the streams reproduce the blocks in iteration order.
	row, err := ioutil.ReadFile(filepath.Join(out, grid.RowFile))
	assert.NoError(t, err)
	offsets, err := grid.ReadOffsets(filepath.Join(out, grid.RowOffsetFile))
	assert.NoError(t, err)
	if got, want := len(offsets), 5; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := offsets[4], blocks; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for k := 0; k < 4; k++ {
		i, j := k/2, k%2
		block, err := ioutil.ReadFile(grid.BlockPath(out, i, j))
		assert.NoError(t, err)
		if got, want := offsets[k+1]-offsets[k], int64(len(block)); got != want {
			t.Errorf("block-%d-%d: got %v bytes in row stream, want %v", i, j, got, want)
		}
		if !bytes.Equal(row[offsets[k]:offsets[k+1]], block) {
			t.Errorf("row[%d:%d] differs from block-%d-%d", offsets[k], offsets[k+1], i, j)
		}
	}

	m, err := grid.ReadMeta(out)
	assert.NoError(t, err)
	want := grid.Meta{EdgeType: 0, Vertices: 4, Edges: 5, Partitions: 2}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestPreprocessSinglePartition(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	input := filepath.Join(dir, "edges")
	writeEdgeFile(t, input, Unweighted, []edge{{src: 0, dst: 1}, {src: 1, dst: 2}})
	out := filepath.Join(dir, "grid")
	err := Preprocess(context.Background(), Options{
		Input:      input,
		Output:     out,
		Vertices:   3,
		Partitions: 1,
		Type:       Unweighted,
		Config:     testConfig(),
	})
	assert.NoError(t, err)
	block, err := ioutil.ReadFile(grid.BlockPath(out, 0, 0))
	assert.NoError(t, err)
	if got, want := len(block), 16; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, name := range []string{grid.RowFile, grid.ColumnFile} {
		b, err := ioutil.ReadFile(filepath.Join(out, name))
		assert.NoError(t, err)
		if !bytes.Equal(b, block) {
			t.Errorf("%s differs from block-0-0", name)
		}
	}
	offsets, err := grid.ReadOffsets(filepath.Join(out, grid.RowOffsetFile))
	assert.NoError(t, err)
	if got, want := offsets, []int64{0, 16}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPreprocessWeighted(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	input := filepath.Join(dir, "edges")
	edges := []edge{
		{0, 1, 0.5}, {0, 2, -1.25}, {1, 3, 3}, {2, 3, math.MaxFloat32}, {3, 0, float32(math.Inf(1))},
	}
	writeEdgeFile(t, input, Weighted, edges)
	out := filepath.Join(dir, "grid")
	err := Preprocess(context.Background(), Options{
		Input:      input,
		Output:     out,
		Vertices:   4,
		Partitions: 2,
		Type:       Weighted,
		Config:     testConfig(),
	})
	assert.NoError(t, err)

	// Every input record, weight bits included, appears byte for byte
	// in exactly one block.
	records := make(map[string]int)
	for _, e := range edges {
		var record [12]byte
		binary.LittleEndian.PutUint32(record[0:], e.src)
		binary.LittleEndian.PutUint32(record[4:], e.dst)
		binary.LittleEndian.PutUint32(record[8:], math.Float32bits(e.weight))
		records[string(record[:])]++
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			b, err := ioutil.ReadFile(grid.BlockPath(out, i, j))
			assert.NoError(t, err)
			if len(b)%12 != 0 {
				t.Fatalf("block-%d-%d is not record aligned", i, j)
			}
			for pos := 0; pos < len(b); pos += 12 {
				records[string(b[pos:pos+12])]--
			}
		}
	}
	for record, n := range records {
		if n != 0 {
			t.Errorf("record %x: count off by %d", record, n)
		}
	}

	m, err := grid.ReadMeta(out)
	assert.NoError(t, err)
	if got, want := m.EdgeType, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := m.Edges, int64(5); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPreprocessDefaultPartitions(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	input := filepath.Join(dir, "edges")
	writeEdgeFile(t, input, Unweighted, []edge{{src: 0, dst: 1}})
	out := filepath.Join(dir, "grid")
	cfg := testConfig()
	cfg.ChunkSize = 2
	err := Preprocess(context.Background(), Options{
		Input:    input,
		Output:   out,
		Vertices: 7,
		Type:     Unweighted,
		Config:   cfg,
	})
	assert.NoError(t, err)
	m, err := grid.ReadMeta(out)
	assert.NoError(t, err)
	if got, want := m.Partitions, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPreprocessRecreatesOutput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	input := filepath.Join(dir, "edges")
	writeEdgeFile(t, input, Unweighted, []edge{{src: 0, dst: 1}})
	out := filepath.Join(dir, "grid")
	assert.NoError(t, os.MkdirAll(out, 0755))
	stale := filepath.Join(out, "block-9-9")
	assert.NoError(t, ioutil.WriteFile(stale, []byte("stale"), 0644))
	err := Preprocess(context.Background(), Options{
		Input:      input,
		Output:     out,
		Vertices:   2,
		Partitions: 1,
		Type:       Unweighted,
		Config:     testConfig(),
	})
	assert.NoError(t, err)
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale output survived preprocessing")
	}
}

func TestPreprocessBadOptions(t *testing.T) {
	if err := Preprocess(context.Background(), Options{Type: EdgeType(7)}); err == nil {
		t.Error("expected error for unknown edge type")
	}
	if err := Preprocess(context.Background(), Options{Type: Unweighted}); err == nil {
		t.Error("expected error for zero vertices")
	}
}

func TestEdgeTypeUnit(t *testing.T) {
	if got, want := Unweighted.Unit(), 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Weighted.Unit(), 12; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := EdgeType(2).Unit(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
