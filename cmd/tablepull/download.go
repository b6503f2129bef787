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
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/tablepull/tablepull/internal/config"
	"github.com/tablepull/tablepull/internal/progress"
	"github.com/tablepull/tablepull/pkg/tablestream"
	"github.com/tablepull/tablepull/pkg/tablestream/blobtable"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	root := fs.String("root", "", "Table root prefix inside the bucket")
	table := fs.String("table", "", "Table reference, [project.]dataset.table (required)")
	output := fs.String("output", "", "Output Arrow IPC file path (required)")
	configPath := fs.String("config", "", "YAML config file")
	streams := fs.Int("streams", 0, "Maximum number of parallel download streams (0 = all published)")
	ordered := fs.Bool("ordered", false, "Preserve published row order (forces a single stream)")
	queue := fs.String("queue", "", "Relay queue capacity: auto, unbounded, or a positive integer")
	columns := fs.String("columns", "", "Comma-separated column subset to download")
	showProgress := fs.Bool("progress", false, "Show progress while downloading")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: tablepull download [options]

Download a published table from object storage into a local Arrow IPC file.
Use -streams for parallel downloads, -ordered when row order matters.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	// Flags win over file and environment, but only when set.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bucket":
			cfg.Bucket = *bucket
		case "root":
			cfg.Root = *root
		case "table":
			cfg.Table = *table
		case "output":
			cfg.Output = *output
		case "streams":
			cfg.MaxStreams = *streams
		case "ordered":
			cfg.Ordered = *ordered
		case "queue":
			cfg.QueueCapacity = *queue
		case "columns":
			cfg.Columns = config.SplitColumns(*columns)
		case "progress":
			cfg.Progress = *showProgress
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}
	if cfg.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: -output is required")
		fs.Usage()
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

	return downloadToFile(ctx, cfg)
}

func downloadToFile(ctx context.Context, cfg config.Config) int {
	ref, err := tablestream.ParseTableRef(cfg.Table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := ref.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUnsupportedRef
	}

	capacity, unbounded, err := config.ParseQueueCapacity(cfg.QueueCapacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	src, err := blobtable.OpenSource(ctx, cfg.Bucket, cfg.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer src.Close()

	manifest, err := src.Manifest(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	schema, err := outputSchema(manifest, cfg.Columns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	opts := []tablestream.Option{
		tablestream.WithMaxStreams(cfg.MaxStreams),
	}
	if cfg.Ordered {
		opts = append(opts, tablestream.WithPreserveOrder())
	}
	if unbounded {
		opts = append(opts, tablestream.WithUnboundedQueue())
	} else if capacity > 0 {
		opts = append(opts, tablestream.WithQueueCapacity(capacity))
	}
	if len(cfg.Columns) > 0 {
		opts = append(opts, tablestream.WithColumns(cfg.Columns...))
	}

	it, err := tablestream.Download(ctx, src, ref, blobtable.DecodePage, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitDownloadFailed
	}
	defer it.Close()

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Table:     ref.String(),
			TotalRows: manifest.TotalRows,
			Streams:   len(manifest.Streams),
			Output:    os.Stderr,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		return ExitGeneralError
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Remove(cfg.Output)
		return ExitGeneralError
	}

	var rows int64
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Remove(cfg.Output)
			return ExitDownloadFailed
		}

		if err := w.Write(rec); err != nil {
			rec.Release()
			fmt.Fprintf(os.Stderr, "Error writing batch: %v\n", err)
			os.Remove(cfg.Output)
			return ExitGeneralError
		}
		rows += rec.NumRows()
		if reporter != nil {
			reporter.BatchCompleted(rec.NumRows(), recordBytes(rec))
		}
		rec.Release()
	}

	if err := w.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error finalizing file: %v\n", err)
		return ExitGeneralError
	}
	if err := f.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing file: %v\n", err)
		return ExitGeneralError
	}

	if reporter != nil {
		reporter.Stop()
	}
	fmt.Fprintf(os.Stderr, "[tablepull] Downloaded %s: %d rows -> %s\n", ref, rows, cfg.Output)
	return ExitSuccess
}

// outputSchema derives the schema of the local file from the manifest,
// pruned to the requested columns.
func outputSchema(m *blobtable.Manifest, columns []string) (*arrow.Schema, error) {
	schema, err := m.ArrowSchema()
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return schema, nil
	}

	fields := make([]arrow.Field, 0, len(columns))
	for _, name := range columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("column %q not in table schema", name)
		}
		fields = append(fields, schema.Field(idx[0]))
	}
	return arrow.NewSchema(fields, nil), nil
}

// recordBytes approximates the in-memory size of a record from its buffers.
func recordBytes(rec arrow.Record) int64 {
	var n int64
	for _, col := range rec.Columns() {
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				n += int64(buf.Len())
			}
		}
	}
	return n
}
