package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/tablepull/tablepull/internal/progress"
	"github.com/tablepull/tablepull/pkg/tableschema"
	"github.com/tablepull/tablepull/pkg/tablestream"
	"github.com/tablepull/tablepull/pkg/tablestream/blobtable"
)

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	root := fs.String("root", "tables", "Table root prefix inside the bucket")
	table := fs.String("table", "", "Table reference, [project.]dataset.table (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: tablepull inspect [options]

Print a published table's manifest without downloading any pages.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *table == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -table are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ref, err := tablestream.ParseTableRef(*table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := ref.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUnsupportedRef
	}

	ctx := context.Background()
	src, err := blobtable.OpenSource(ctx, *bucket, *root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer src.Close()

	m, err := src.Manifest(ctx, ref)
	if err != nil {
		if errors.Is(err, blobtable.ErrNoManifest) {
			fmt.Fprintf(os.Stderr, "Error: table %s not found\n", ref)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return ExitStorageError
	}

	printManifest(m)
	return ExitSuccess
}

func printManifest(m *blobtable.Manifest) {
	var pages int
	for _, sm := range m.Streams {
		pages += len(sm.Pages)
	}

	fmt.Printf("Table:       %s\n", m.Table)
	fmt.Printf("Published:   %s\n", m.CompletedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Compression: %s\n", m.Compression)
	fmt.Printf("Rows:        %d\n", m.TotalRows)
	fmt.Printf("Size:        %s\n", progress.FormatBytes(m.TotalBytes))
	fmt.Printf("Streams:     %d (%d pages)\n", len(m.Streams), pages)

	if len(m.Metadata) > 0 {
		fmt.Println("Metadata:")
		for k, v := range m.Metadata {
			fmt.Printf("  %s: %s\n", k, v)
		}
	}

	fmt.Println("Schema:")
	for _, f := range m.Schema {
		fmt.Printf("  %-20s %s%s\n", f.Name, f.Type, fieldMode(f))
	}
}

func fieldMode(f tableschema.Field) string {
	switch {
	case f.Repeated:
		return " REPEATED"
	case f.Required:
		return " REQUIRED"
	default:
		return ""
	}
}
