// Package progress provides progress reporting for table downloads.
//
// This package outputs human-readable progress information, including rows
// and batches delivered, throughput, and ETA when the total row count is
// known up front (from the table manifest).
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Table:     "proj.sales.orders",
//	    TotalRows: manifest.TotalRows,
//	    Streams:   len(manifest.Streams),
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as batches arrive
//	reporter.BatchCompleted(rec.NumRows(), pageBytes)
//
// # Output Format
//
//	[tablepull] Downloading: proj.sales.orders
//	[tablepull] Total rows: 10485760 | Streams: 8
//	[tablepull] Progress: 45.2% | 4739072 / 10485760 rows | 1187034 rows/s | ETA: 4s
package progress
