// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Edgegrid preprocesses raw edge lists into the 2-D edge grid layout
// consumed by streaming graph engines.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/edgegrid"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Edgegrid is a tool for preparing graphs for grid-based streaming engines.

Usage:

	edgegrid <command> [arguments]

The commands are:

	preprocess  partition a binary edge list into a 2-D edge grid
	encode      convert a text edge list to the binary edge format
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("edgegrid: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "preprocess":
		preprocessCmd(args)
	case "encode":
		encodeCmd(args)
	}
}

func preprocessCmd(args []string) {
	var (
		flags      = flag.NewFlagSet("preprocess", flag.ExitOnError)
		input      = flags.String("i", "", "input binary edge file")
		output     = flags.String("o", "", "output grid directory (wiped and recreated)")
		vertices   = flags.Uint("v", 0, "number of vertices")
		partitions = flags.Int("p", 0, "number of partitions per axis (default derived from -v)")
		edgeType   = flags.Int("t", 0, "edge type: 0=unweighted, 1=weighted")
		configPath = flags.String("config", "", "optional YAML tuning config")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: edgegrid preprocess -i input -o output -v vertices [-p partitions] [-t type] [-config path]")
		flags.PrintDefaults()
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if *input == "" || *output == "" || *vertices == 0 {
		flags.Usage()
	}
	var (
		cfg edgegrid.Config
		err error
	)
	if *configPath != "" {
		cfg, err = edgegrid.LoadConfig(*configPath)
		must.Nil(err)
	}
	err = edgegrid.Preprocess(context.Background(), edgegrid.Options{
		Input:      *input,
		Output:     *output,
		Vertices:   uint32(*vertices),
		Partitions: *partitions,
		Type:       edgegrid.EdgeType(*edgeType),
		Config:     cfg,
	})
	must.Nil(err)
}
