package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/logging"
)

// ProgressUpdate is one JSON progress line.
type ProgressUpdate struct {
	Timestamp     string  `json:"timestamp"`
	TaskID        string  `json:"task_id"`
	TaskName      string  `json:"task_name,omitempty"`
	RowsDone      int64   `json:"rows_done"`
	RowsTotal     int64   `json:"rows_total,omitempty"`
	ProgressPct   float64 `json:"progress_pct"`
	RowsPerSecond int64   `json:"rows_per_second,omitempty"`
}

// JSONReporter outputs JSON progress updates to a writer (typically stderr).
// It satisfies the same SetTotal/Add contract as Tracker.
type JSONReporter struct {
	writer   io.Writer
	taskID   string
	taskName string
	interval time.Duration
	start    time.Time

	mu         sync.Mutex
	done       int64
	total      int64
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a new JSON progress reporter.
// interval specifies the minimum time between updates (to avoid flooding).
func NewJSONReporter(writer io.Writer, taskID, taskName string, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		taskID:   taskID,
		taskName: taskName,
		interval: interval,
		start:    time.Now(),
	}
}

// SetTotal records the total and emits an update immediately.
func (r *JSONReporter) SetTotal(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.emitLocked(time.Now())
}

// Add advances the count; updates are throttled by the interval.
func (r *JSONReporter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += n
	now := time.Now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval && r.done < r.total {
		return
	}
	r.emitLocked(now)
}

func (r *JSONReporter) emitLocked(now time.Time) {
	if r.closed {
		return
	}
	update := ProgressUpdate{
		Timestamp: now.Format(time.RFC3339),
		TaskID:    r.taskID,
		TaskName:  r.taskName,
		RowsDone:  r.done,
		RowsTotal: r.total,
	}
	if r.total > 0 {
		update.ProgressPct = float64(r.done) / float64(r.total) * 100
	}
	if secs := now.Sub(r.start).Seconds(); secs > 0 {
		update.RowsPerSecond = int64(float64(r.done) / secs)
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
	r.lastReport = now
}

// Close stops further output.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
