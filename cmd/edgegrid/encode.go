// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/edgegrid"
)

// encodeCmd converts a whitespace-separated text edge list into the
// fixed-width binary edge format. Lines starting with '#' are
// skipped. Weighted inputs carry a third column parsed as a float.
func encodeCmd(args []string) {
	var (
		flags    = flag.NewFlagSet("encode", flag.ExitOnError)
		input    = flags.String("i", "", "input text edge list")
		output   = flags.String("o", "", "output binary edge file")
		edgeType = flags.Int("t", 0, "edge type: 0=unweighted, 1=weighted")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: edgegrid encode -i input -o output [-t type]")
		flags.PrintDefaults()
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if *input == "" || *output == "" {
		flags.Usage()
	}
	typ := edgegrid.EdgeType(*edgeType)
	must.True(typ.Unit() != 0, "unsupported edge type", *edgeType)

	in, err := os.Open(*input)
	must.Nil(err)
	defer in.Close()
	out, err := os.Create(*output)
	must.Nil(err)

	var (
		w      = bufio.NewWriterSize(out, 1<<20)
		record [12]byte
		edges  int64
		maxVid uint32
	)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := bytes.Fields(line)
		must.True(len(fields) >= 2, "malformed edge line:", string(line))
		src := bytesToUint32(fields[0])
		dst := bytesToUint32(fields[1])
		binary.LittleEndian.PutUint32(record[0:], src)
		binary.LittleEndian.PutUint32(record[4:], dst)
		if typ == edgegrid.Weighted {
			weight := float64(1)
			if len(fields) >= 3 {
				weight, err = strconv.ParseFloat(string(fields[2]), 32)
				must.Nil(err)
			}
			binary.LittleEndian.PutUint32(record[8:], math.Float32bits(float32(weight)))
		}
		_, err = w.Write(record[:typ.Unit()])
		must.Nil(err)
		if src > maxVid {
			maxVid = src
		}
		if dst > maxVid {
			maxVid = dst
		}
		edges++
	}
	must.Nil(scanner.Err())
	must.Nil(w.Flush())
	must.Nil(out.Close())
	log.Printf("encoded %d edges, max vertex ID %d", edges, maxVid)
}

// bytesToUint32 parses an ASCII decimal without allocating a string;
// per-line string conversion dominates the scan otherwise.
func bytesToUint32(s []byte) uint32 {
	n := uint32(0)
	for _, c := range s {
		n = n*10 + uint32(c-'0')
	}
	return n
}
