package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Table is the table reference being downloaded (for display).
	Table string

	// TotalRows is the expected row count, from the manifest. Zero disables
	// percentage and ETA output.
	TotalRows int64

	// Streams is the number of download streams (for display).
	Streams int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu               sync.Mutex
	completedRows    atomic.Int64
	completedBytes   atomic.Int64
	completedBatches atomic.Int64
	startTime        time.Time
	lastUpdate       time.Time
	lastRows         int64
	stopCh           chan struct{}
	doneCh           chan struct{}
	started          bool
	stopped          bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[tablepull] Downloading: %s\n", r.opts.Table)
	fmt.Fprintf(r.opts.Output, "[tablepull] Total rows: %d | Streams: %d\n",
		r.opts.TotalRows,
		r.opts.Streams,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh // wait for the final status line
	}
}

// BatchCompleted records one delivered record batch.
func (r *Reporter) BatchCompleted(rows, bytes int64) {
	r.completedRows.Add(rows)
	r.completedBytes.Add(bytes)
	r.completedBatches.Add(1)
}

// Rows returns the row count recorded so far.
func (r *Reporter) Rows() int64 {
	return r.completedRows.Load()
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	rows := r.completedRows.Load()
	batches := r.completedBatches.Load()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(rows-r.lastRows) / elapsed

	r.lastUpdate = now
	r.lastRows = rows

	if r.opts.TotalRows > 0 {
		percent := float64(rows) / float64(r.opts.TotalRows) * 100
		eta := "calculating..."
		if speed > 0 {
			etaSeconds := float64(r.opts.TotalRows-rows) / speed
			eta = formatDuration(time.Duration(etaSeconds * float64(time.Second)))
		}
		fmt.Fprintf(r.opts.Output, "\r[tablepull] Progress: %.1f%% | %d / %d rows | %.0f rows/s | ETA: %s    ",
			percent, rows, r.opts.TotalRows, speed, eta)
	} else {
		fmt.Fprintf(r.opts.Output, "\r[tablepull] Progress: %d rows | %d batches | %.0f rows/s    ",
			rows, batches, speed)
	}
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	rows := r.completedRows.Load()
	batches := r.completedBatches.Load()
	bytes := r.completedBytes.Load()
	duration := time.Since(r.startTime)

	avgSpeed := float64(rows) / duration.Seconds()
	fmt.Fprintf(r.opts.Output, "\r[tablepull] Done: %d rows in %d batches (%s)    \n",
		rows, batches, FormatBytes(bytes))
	fmt.Fprintf(r.opts.Output, "[tablepull] Total time: %s | Average: %.0f rows/s\n",
		formatDuration(duration), avgSpeed)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	switch {
	case b >= TiB:
		return fmt.Sprintf("%.1f TiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.1f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.1f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.1f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", h, m)
	case d >= time.Minute:
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
