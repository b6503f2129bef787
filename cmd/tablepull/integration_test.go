//go:build integration

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	_ "gocloud.dev/blob/s3blob"

	"github.com/tablepull/tablepull/internal/testutils"
	"github.com/tablepull/tablepull/pkg/tablestream"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	const (
		root      = "tables"
		tableName = "proj.sales.orders"
		totalRows = 3 * 4 * 50 // streams x pages x rows per page
	)

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	ref, err := tablestream.ParseTableRef(tableName)
	if err != nil {
		t.Fatalf("parse table ref: %v", err)
	}
	testutils.PublishTestTable(t, ctx, bucket, root, ref, 3, 4, 50)

	t.Run("inspect", func(t *testing.T) {
		exitCode := runInspect([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", tableName,
		})
		if exitCode != ExitSuccess {
			t.Fatalf("inspect failed with exit code %d", exitCode)
		}
	})

	t.Run("download", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "orders.arrow")

		exitCode := runDownload([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", tableName,
			"-output", tmpFile,
			"-streams", "2",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		if got := readRowIDs(t, tmpFile); len(got) != totalRows {
			t.Fatalf("downloaded %d rows, want %d", len(got), totalRows)
		}
	})

	t.Run("download_ordered", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "ordered.arrow")

		exitCode := runDownload([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", tableName,
			"-output", tmpFile,
			"-ordered",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		ids := readRowIDs(t, tmpFile)
		if len(ids) != totalRows {
			t.Fatalf("downloaded %d rows, want %d", len(ids), totalRows)
		}
		for i, id := range ids {
			if id != int64(i) {
				t.Fatalf("row %d has id %d, want %d", i, id, i)
			}
		}
	})

	t.Run("publish_round_trip", func(t *testing.T) {
		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "src.arrow")
		dst := filepath.Join(tmpDir, "dst.arrow")

		writeLocalTable(t, src, 200)

		exitCode := runPublish([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", "proj.sales.copies",
			"-input", src,
			"-streams", "2",
			"-page-rows", "64",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("publish failed with exit code %d", exitCode)
		}

		exitCode = runDownload([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", "proj.sales.copies",
			"-output", dst,
		})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		if got := readRowIDs(t, dst); len(got) != 200 {
			t.Fatalf("round trip returned %d rows, want 200", len(got))
		}
	})

	t.Run("download_missing_table", func(t *testing.T) {
		exitCode := runDownload([]string{
			"-bucket", minio.BucketURL,
			"-root", root,
			"-table", "proj.sales.missing",
			"-output", filepath.Join(t.TempDir(), "missing.arrow"),
		})
		if exitCode != ExitStorageError {
			t.Fatalf("expected exit code %d, got %d", ExitStorageError, exitCode)
		}
	})
}

// writeLocalTable writes a single-batch Arrow IPC file with rows sequential ids.
func writeLocalTable(t *testing.T, path string, rows int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(testutils.TestSchema()))
	if err != nil {
		t.Fatalf("new file writer: %v", err)
	}
	rec := testutils.BuildBatch(t, rows, 0)
	defer rec.Release()

	if err := w.Write(rec); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

// readRowIDs reads back the id column of every batch in an Arrow IPC file.
func readRowIDs(t *testing.T, path string) []int64 {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	var ids []int64
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read batch: %v", err)
		}
		col := rec.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			ids = append(ids, col.Value(i))
		}
	}
	return ids
}
