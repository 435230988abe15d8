package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/freeeve/lineage/internal/fixture"
	"github.com/freeeve/lineage/internal/records"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("LINEAGE_DSN"), "SQLite path or postgres:// URL")
		inputPath = flag.String("input", "roster.csv", "Input CSV (path or s3://bucket/key, .zst ok)")
		batchSize = flag.Int("batch", 500, "records per transaction")
		strict    = flag.Bool("strict", false, "stop at the first bad row")
	)
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "-dsn (or LINEAGE_DSN) is required")
		os.Exit(2)
	}
	ctx := context.Background()

	fmt.Printf("Opening repository\n")
	repo, err := records.OpenDSN(ctx, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	loc, err := fixture.Parse(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "input: %v\n", err)
		os.Exit(1)
	}
	in, err := fixture.New(fixture.FromEnv()).Open(ctx, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open input: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	reader, err := records.NewCSVReader(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var imported, bad uint64
	batch := make([]records.Record, 0, *batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := repo.Put(ctx, batch...); err != nil {
			fmt.Fprintf(os.Stderr, "put batch: %v\n", err)
			os.Exit(1)
		}
		imported += uint64(len(batch))
		batch = batch[:0]
		fmt.Printf("Imported %d records (bad rows %d)\n", imported, bad)
	}

	fmt.Printf("Importing roster from %s...\n", loc)
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if *strict {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "skip %v\n", err)
			bad++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= *batchSize {
			flush()
		}
	}
	flush()

	total, _ := repo.Len(ctx)
	fmt.Printf("\nDone! Imported %d records (bad rows %d), repository holds %d\n", imported, bad, total)
}
