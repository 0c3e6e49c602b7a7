// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ioring provides a fixed pool of reusable, page-aligned I/O
// buffers shared between a single reader and a pool of parse workers.
// The reader claims a free buffer, fills it from the input, and hands
// it to a worker as a Task; the worker releases the buffer when it has
// finished parsing. Buffers may be released in any order. No memory is
// allocated after construction.
package ioring

import (
	"context"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/ncw/directio"
)

// A Task names a filled ring buffer: slot Slot holds N valid bytes.
// Workers obtain the bytes with Buffer and must call Release when
// done. The task channel is closed to signal shutdown.
type Task struct {
	Slot int
	N    int
}

// A Ring is a pool of 2*parallelism aligned buffers. Claim and Stream
// may be used by a single reader goroutine only; Release is safe to
// call from any goroutine.
type Ring struct {
	size     int
	bufs     [][]byte
	occupied []uint32
	cursor   int
}

// New returns a ring of 2*parallelism buffers of the given size each,
// aligned for direct I/O.
func New(parallelism, size int) *Ring {
	r := &Ring{
		size:     size,
		bufs:     make([][]byte, 2*parallelism),
		occupied: make([]uint32, 2*parallelism),
	}
	for i := range r.bufs {
		r.bufs[i] = directio.AlignedBlock(size)
	}
	return r
}

// Buffer returns the backing bytes of the given slot.
func (r *Ring) Buffer(slot int) []byte { return r.bufs[slot] }

// Claim returns the slot of a free buffer and marks it occupied. It
// spins past occupied slots until one frees up; since buffers outnumber
// workers two to one, the wait is short.
func (r *Ring) Claim() int {
	for atomic.LoadUint32(&r.occupied[r.cursor]) != 0 {
		r.cursor = (r.cursor + 1) % len(r.bufs)
		if r.cursor == 0 {
			runtime.Gosched()
		}
	}
	slot := r.cursor
	atomic.StoreUint32(&r.occupied[slot], 1)
	r.cursor = (r.cursor + 1) % len(r.bufs)
	return slot
}

// Release returns a slot to the pool, making it claimable again.
func (r *Ring) Release(slot int) {
	atomic.StoreUint32(&r.occupied[slot], 0)
}

// Stream reads src into claimed ring buffers and sends one Task per
// filled buffer on tasks, until src is exhausted or ctx is done. It
// returns the total number of bytes read. Stream does not close the
// tasks channel; that is the caller's shutdown signal to its workers.
func (r *Ring) Stream(ctx context.Context, src io.Reader, tasks chan<- Task) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		slot := r.Claim()
		n, err := io.ReadFull(src, r.Buffer(slot))
		if n > 0 {
			total += int64(n)
			tasks <- Task{Slot: slot, N: n}
		} else {
			r.Release(slot)
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return total, nil
		default:
			return total, err
		}
	}
}
