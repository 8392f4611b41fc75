package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/config"
)

func TestDisabledNotifierIsNoOp(t *testing.T) {
	n := New(nil)
	if n.IsEnabled() {
		t.Fatal("nil config should be disabled")
	}
	if err := n.TaskFailed(Event{TaskName: "x", Err: errors.New("boom")}); err != nil {
		t.Errorf("TaskFailed on disabled notifier = %v", err)
	}

	n = New(&config.SlackConfig{Enabled: true})
	if n.IsEnabled() {
		t.Error("enabled without webhook should be disabled")
	}
}

func captureServer(t *testing.T, status int) (*httptest.Server, *[]SlackMessage) {
	t.Helper()
	var got []SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		got = append(got, msg)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestTaskCompletedPostsSummary(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#etl"})

	err := n.TaskCompleted(Event{
		TaskID:   "t1",
		TaskName: "copy users",
		TaskType: "row-to-columnar-copy",
		Status:   "completed",
		Started:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration: 10 * time.Second,
		Rows:     12500,
	})
	if err != nil {
		t.Fatalf("TaskCompleted: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("got %d messages, want 1", len(*got))
	}
	msg := (*got)[0]
	if msg.Channel != "#etl" || msg.Username != "etl-orchestrator" {
		t.Errorf("channel/username = %q/%q", msg.Channel, msg.Username)
	}
	if !strings.Contains(msg.Text, "12,500 rows") || !strings.Contains(msg.Text, "1,250 rows/sec") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestTaskFailedTitles(t *testing.T) {
	tests := []struct {
		status    string
		wantTitle string
	}{
		{"failed", "Task Failed"},
		{"cancelled", "Task Cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv, got := captureServer(t, http.StatusOK)
			n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL})
			if err := n.TaskFailed(Event{TaskName: "x", Status: tt.status, Err: errors.New(strings.Repeat("e", 600))}); err != nil {
				t.Fatalf("TaskFailed: %v", err)
			}
			att := (*got)[0].Attachments[0]
			if att.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", att.Title, tt.wantTitle)
			}
			last := att.Fields[len(att.Fields)-1]
			if last.Title != "Error" || len(last.Value) != 503 {
				t.Errorf("error field = %q (%d chars)", last.Title, len(last.Value))
			}
		})
	}
}

func TestSendReportsHTTPStatus(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL})
	err := n.TaskCompleted(Event{TaskName: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("err = %v", err)
	}
}

func TestFormatHelpers(t *testing.T) {
	nums := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range nums {
		if got := formatNumberWithCommas(in); got != want {
			t.Errorf("formatNumberWithCommas(%d) = %q, want %q", in, got, want)
		}
	}
	durs := map[time.Duration]string{
		42 * time.Second:                  "42s",
		3*time.Minute + 5*time.Second:     "3m 5s",
		2*time.Hour + 1*time.Minute + 9e9: "2h 1m 9s",
	}
	for in, want := range durs {
		if got := formatDuration(in); got != want {
			t.Errorf("formatDuration(%s) = %q, want %q", in, got, want)
		}
	}
}
