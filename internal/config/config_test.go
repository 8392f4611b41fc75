package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte("store:\n  data_dir: /tmp/etl-test\n"))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if want := filepath.Join("/tmp/etl-test", "etl.db"); cfg.Store.DSN != want {
		t.Errorf("Store.DSN = %q, want %q", cfg.Store.DSN, want)
	}
	if cfg.Store.ReadRetries != 3 {
		t.Errorf("Store.ReadRetries = %d, want 3", cfg.Store.ReadRetries)
	}
	if cfg.Store.ReadRetryDelay != time.Second {
		t.Errorf("Store.ReadRetryDelay = %v, want 1s", cfg.Store.ReadRetryDelay)
	}
	if cfg.Transfer.BatchRetryDelay != 2*time.Second {
		t.Errorf("Transfer.BatchRetryDelay = %v, want 2s", cfg.Transfer.BatchRetryDelay)
	}
	if cfg.Executor.Workers < 2 {
		t.Errorf("Executor.Workers = %d, want >= 2", cfg.Executor.Workers)
	}
	if cfg.Executor.QueueSize != 64 {
		t.Errorf("Executor.QueueSize = %d, want 64", cfg.Executor.QueueSize)
	}
	if cfg.Executor.CancelPollInterval != 2*time.Second {
		t.Errorf("Executor.CancelPollInterval = %v, want 2s", cfg.Executor.CancelPollInterval)
	}
}

func TestLoadBytesDurationsAndOverrides(t *testing.T) {
	yaml := `
store:
  driver: postgres
  dsn: postgres://etl:secret@db:5432/etl?sslmode=disable
  read_retry_delay: 250ms
executor:
  workers: 3
  queue_size: 5
transfer:
  batch_retry_delay: 10ms
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if cfg.Store.ReadRetryDelay != 250*time.Millisecond {
		t.Errorf("ReadRetryDelay = %v", cfg.Store.ReadRetryDelay)
	}
	if cfg.Executor.Workers != 3 || cfg.Executor.QueueSize != 5 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Transfer.BatchRetryDelay != 10*time.Millisecond {
		t.Errorf("BatchRetryDelay = %v", cfg.Transfer.BatchRetryDelay)
	}
}

func TestLoadBytesEnvExpansion(t *testing.T) {
	t.Setenv("ETL_TEST_WEBHOOK", "https://hooks.slack.test/abc")
	cfg, err := LoadBytes([]byte("slack:\n  enabled: true\n  webhook_url: ${ETL_TEST_WEBHOOK}\n"))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if cfg.Slack.WebhookURL != "https://hooks.slack.test/abc" {
		t.Errorf("WebhookURL = %q", cfg.Slack.WebhookURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown store driver",
			yaml:    "store:\n  driver: oracle\n  dsn: x\n",
			wantErr: "store.driver",
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  driver: postgres\n",
			wantErr: "store.dsn is required",
		},
		{
			name:    "slack enabled without webhook",
			yaml:    "slack:\n  enabled: true\n",
			wantErr: "slack.webhook_url",
		},
		{
			name:    "bad log format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestSanitized(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    string
		notWant string
	}{
		{
			name:    "url dsn",
			dsn:     "postgres://etl:secret@db:5432/etl",
			want:    "etl:REDACTED@db:5432",
			notWant: "secret",
		},
		{
			name:    "mysql dsn",
			dsn:     "etl:secret@tcp(db:3306)/etl?parseTime=true",
			want:    "etl:[REDACTED]@tcp(db:3306)/etl",
			notWant: "secret",
		},
		{
			name: "sqlite path",
			dsn:  "/var/lib/etl/etl.db",
			want: "/var/lib/etl/etl.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.DSN = tt.dsn
			cfg.Slack.WebhookURL = "https://hooks.slack.test/abc"

			s := cfg.Sanitized()
			if !strings.Contains(s.Store.DSN, tt.want) {
				t.Errorf("sanitized DSN = %q, want substring %q", s.Store.DSN, tt.want)
			}
			if tt.notWant != "" && strings.Contains(s.Store.DSN, tt.notWant) {
				t.Errorf("sanitized DSN still contains %q: %s", tt.notWant, s.Store.DSN)
			}
			if s.Slack.WebhookURL != "[REDACTED]" {
				t.Errorf("webhook not redacted: %s", s.Slack.WebhookURL)
			}
			if cfg.Store.DSN != tt.dsn {
				t.Errorf("original config mutated: %s", cfg.Store.DSN)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandTilde("~/etl"); got != filepath.Join(home, "etl") {
		t.Errorf("expandTilde() = %q", got)
	}
	if got := expandTilde("/abs"); got != "/abs" {
		t.Errorf("expandTilde() = %q", got)
	}
}
