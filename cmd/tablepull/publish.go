package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/tablepull/tablepull/internal/progress"
	"github.com/tablepull/tablepull/pkg/tablestream"
	"github.com/tablepull/tablepull/pkg/tablestream/blobtable"
)

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Destination bucket URL (required)")
	root := fs.String("root", "tables", "Table root prefix inside the bucket")
	table := fs.String("table", "", "Table reference, [project.]dataset.table (required)")
	input := fs.String("input", "", "Input Arrow IPC file path (required)")
	streams := fs.Int("streams", 1, "Number of streams to shard pages across")
	pageRows := fs.Int("page-rows", 0, "Split batches larger than this many rows (0 = keep input batches)")
	noCompress := fs.Bool("no-compress", false, "Disable zstd compression of page payloads")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: tablepull publish [options]

Publish a local Arrow IPC file as a table in object storage. The table
becomes visible to downloads only once the manifest is written, so a
crashed publish leaves no partially readable table behind.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *table == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket, -table, and -input are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *streams < 1 {
		fmt.Fprintln(os.Stderr, "Error: -streams must be positive")
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[tablepull] Received interrupt, shutting down...")
		cancel()
	}()

	return publishFile(ctx, *bucket, *root, *table, *input, *streams, *pageRows, !*noCompress)
}

func publishFile(ctx context.Context, bucketURL, root, table, input string, streams, pageRows int, compress bool) int {
	ref, err := tablestream.ParseTableRef(table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := ref.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUnsupportedRef
	}

	f, err := os.Open(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		return ExitGeneralError
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading Arrow file: %v\n", err)
		return ExitGeneralError
	}
	defer r.Close()

	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer b.Close()

	w, err := blobtable.Create(ctx, b, root, ref, r.Schema(),
		blobtable.WithStreams(streams),
		blobtable.WithCompression(compress),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitPublishFailed
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading batch: %v\n", err)
			return ExitGeneralError
		}

		if err := appendPaged(ctx, w, rec, pageRows); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitPublishFailed
		}
	}

	if err := w.Complete(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitPublishFailed
	}

	m := w.Manifest()
	fmt.Fprintf(os.Stderr, "[tablepull] Published %s: %d rows in %d streams (%s)\n",
		ref, m.TotalRows, len(m.Streams), progress.FormatBytes(m.TotalBytes))
	return ExitSuccess
}

// appendPaged writes rec as one or more pages, splitting batches that exceed
// pageRows rows.
func appendPaged(ctx context.Context, w *blobtable.Writer, rec arrow.Record, pageRows int) error {
	if pageRows <= 0 || rec.NumRows() <= int64(pageRows) {
		return w.Append(ctx, rec)
	}

	for offset := int64(0); offset < rec.NumRows(); offset += int64(pageRows) {
		end := offset + int64(pageRows)
		if end > rec.NumRows() {
			end = rec.NumRows()
		}
		slice := rec.NewSlice(offset, end)
		err := w.Append(ctx, slice)
		slice.Release()
		if err != nil {
			return err
		}
	}
	return nil
}
