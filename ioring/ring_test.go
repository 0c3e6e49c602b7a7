// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ioring

import (
	"bytes"
	"context"
	"testing"
)

func TestClaimRelease(t *testing.T) {
	const parallelism = 2
	r := New(parallelism, 1<<16)
	slots := make([]int, 2*parallelism)
	for i := range slots {
		slots[i] = r.Claim()
	}
	seen := make(map[int]bool)
	for _, slot := range slots {
		if seen[slot] {
			t.Fatalf("slot %d claimed twice", slot)
		}
		seen[slot] = true
		if got, want := len(r.Buffer(slot)), 1<<16; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	// Out-of-order release: the claimer skips forward past occupied
	// slots.
	r.Release(slots[2])
	if got, want := r.Claim(), slots[2]; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStream(t *testing.T) {
	const (
		size   = 1 << 16
		chunks = 5
		tail   = 100
	)
	input := make([]byte, chunks*size+tail)
	for i := range input {
		input[i] = byte(i)
	}
	r := New(1, size)
	tasks := make(chan Task, 1)
	var got []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for task := range tasks {
			got = append(got, r.Buffer(task.Slot)[:task.N]...)
			r.Release(task.Slot)
		}
	}()
	n, err := r.Stream(context.Background(), bytes.NewReader(input), tasks)
	close(tasks)
	<-done
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, int64(len(input)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !bytes.Equal(got, input) {
		t.Error("streamed bytes differ from input")
	}
}

func TestStreamEmpty(t *testing.T) {
	r := New(1, 1<<16)
	tasks := make(chan Task, 1)
	n, err := r.Stream(context.Background(), bytes.NewReader(nil), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	select {
	case task := <-tasks:
		t.Fatalf("unexpected task %+v for empty input", task)
	default:
	}
}
