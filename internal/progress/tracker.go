// Package progress renders row progress for a running task, either as a
// terminal progress bar or as JSON lines for automation.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/etl-orchestrator/internal/logging"
)

// Tracker tracks task progress on a terminal progress bar
type Tracker struct {
	description string
	out         io.Writer
	startTime   time.Time
	current     atomic.Int64

	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	total int64
}

// New creates a new progress tracker writing to stderr
func New(description string) *Tracker {
	return NewWithWriter(description, os.Stderr)
}

// NewWithWriter creates a tracker that renders to w
func NewWithWriter(description string, w io.Writer) *Tracker {
	return &Tracker{
		description: description,
		out:         w,
		startTime:   time.Now(),
	}
}

// SetTotal sets the total number of rows to transfer
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription(t.description),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the progress counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	t.mu.Lock()
	bar := t.bar
	t.mu.Unlock()
	if bar != nil {
		bar.Add64(n)
	}
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Total returns the total set by the strategy, or 0.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	t.mu.Lock()
	bar := t.bar
	t.mu.Unlock()
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(t.out)
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rowsPerSec = float64(t.current.Load()) / secs
	}
	logging.Info("Transfer complete: %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
