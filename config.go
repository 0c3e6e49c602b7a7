// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package edgegrid

import (
	"io/ioutil"
	"runtime"

	"github.com/grailbio/base/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultIOSize is the default size of each ring buffer, and thus
	// the unit of streaming I/O in both passes.
	DefaultIOSize = 4 << 20
	// DefaultGridBufferSize is the default capacity of each grid
	// cell's coalesce buffer. It is a common multiple of the 8-byte
	// and 12-byte edge units so that whole records always fit.
	DefaultGridBufferSize = 768
	// DefaultChunkSize is the default number of vertices per
	// partition used when the caller does not specify a partition
	// count.
	DefaultChunkSize = 1 << 20
)

// Config holds the process-wide tuning knobs of the preprocessor.
// The zero value of each field selects its default.
type Config struct {
	// Parallelism is the number of parse workers run in each pass.
	// The buffer ring holds twice this many buffers. Defaults to
	// runtime.NumCPU.
	Parallelism int `yaml:"parallelism"`
	// IOSize is the size in bytes of each ring buffer. It must be a
	// power of two and at least 64 KiB.
	IOSize int `yaml:"iosize"`
	// GridBufferSize is the capacity in bytes of the per-cell
	// coalesce buffer that batches single-edge appends. It must be a
	// multiple of the edge unit in use.
	GridBufferSize int `yaml:"grid_buffer_size"`
	// ChunkSize is the number of vertices per partition assumed when
	// deriving a default partition count.
	ChunkSize int `yaml:"chunk_size"`
}

// LoadConfig reads a YAML-encoded Config from the file at path.
// Fields absent from the file are left zero and thus default.
func LoadConfig(path string) (Config, error) {
	var c Config
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, errors.E(errors.Invalid, "parse config "+path, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Parallelism == 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.IOSize == 0 {
		c.IOSize = DefaultIOSize
	}
	if c.GridBufferSize == 0 {
		c.GridBufferSize = DefaultGridBufferSize
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

func (c Config) validate() error {
	if c.Parallelism < 1 {
		return errors.E(errors.Invalid, "config: parallelism must be positive")
	}
	if c.IOSize < 64<<10 || c.IOSize&(c.IOSize-1) != 0 {
		return errors.E(errors.Invalid, "config: iosize must be a power of two of at least 64KiB")
	}
	if c.GridBufferSize < 1 {
		return errors.E(errors.Invalid, "config: grid buffer size must be positive")
	}
	if c.ChunkSize < 1 {
		return errors.E(errors.Invalid, "config: chunk size must be positive")
	}
	return nil
}
