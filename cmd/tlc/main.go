// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command tlc lowers a single tensor-expression schedule item, given as
// JSON on stdin or a file, into a flat uop listing, which it prints on
// stdout when -explain is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"github.com/agegold/tensorlin/diag"
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/tensorlin"
)

func main() {
	log.Default().SetOutput(os.Stdout)
	logger := log.New(os.Stdout, "", 0)

	flagSet := flag.NewFlagSet("tlc", flag.ExitOnError)
	input := flagSet.String("in", "-", "schedule item JSON file, or - for stdin")
	profile := flagSet.String("profile", "", "target capability profile YAML file")
	explain := flagSet.Bool("explain", false, "dump the lowered uop listing to stdout")
	verbose := flagSet.Bool("v", false, "log a correlation id for this lowering")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	runID := uuid.New()
	if *verbose {
		logger.Printf("tlc: lowering %s id=%s", *input, runID)
	}

	raw, err := readInput(ctx, *input)
	if err != nil {
		panic(fmt.Sprintf("tlc: reading input: %v", err))
	}

	item, err := decodeScheduleItem(raw)
	if err != nil {
		panic(fmt.Sprintf("tlc: %v", err))
	}

	if *profile != "" {
		caps, err := kernel.LoadTargetProfile(*profile)
		if err != nil {
			panic(fmt.Sprintf("tlc: loading target profile: %v", err))
		}
		item.Cap = *caps
	}

	g, err := tensorlin.Lower(item)
	if err != nil {
		logger.Fatalf("tlc: lowering failed id=%s: %v", runID, err)
	}

	if *verbose {
		logger.Printf("tlc: lowered %d uops id=%s", g.Len(), runID)
	}

	if *explain {
		if err := diag.Dump(g, os.Stdout); err != nil {
			panic(fmt.Sprintf("tlc: writing explain output: %v", err))
		}
	}
}

// readInput reads the schedule item body from path, or from stdin when
// path is "-". The context only governs how long the read itself is
// allowed to block; it is not threaded into the lowering call.
func readInput(ctx context.Context, path string) ([]byte, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}
