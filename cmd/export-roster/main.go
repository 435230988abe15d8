package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/freeeve/lineage/internal/fixture"
	"github.com/freeeve/lineage/internal/records"
)

func main() {
	var (
		dsn        = flag.String("dsn", os.Getenv("LINEAGE_DSN"), "SQLite path or postgres:// URL (empty = built-in roster)")
		outputPath = flag.String("output", "roster.csv", "Output CSV (path or s3://bucket/key, .zst compresses)")
	)
	flag.Parse()
	ctx := context.Background()

	var recs []records.Record
	if *dsn == "" {
		fmt.Printf("Exporting built-in roster\n")
		recs = records.Builtin()
	} else {
		repo, err := records.OpenDSN(ctx, *dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
			os.Exit(1)
		}
		defer repo.Close()
		recs, err = repo.All(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read records: %v\n", err)
			os.Exit(1)
		}
	}

	if err := fixture.New(fixture.FromEnv()).SaveRoster(ctx, *outputPath, recs); err != nil {
		fmt.Fprintf(os.Stderr, "write roster: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDone! Exported %d records to %s\n", len(recs), *outputPath)
}
