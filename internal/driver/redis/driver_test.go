package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func testConnection(t *testing.T, mr *miniredis.Miniredis) *model.Connection {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return &model.Connection{Name: "cache", Type: model.KVStore, Host: mr.Host(), Port: port}
}

func TestProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	d := &Driver{}
	if err := d.Probe(context.Background(), testConnection(t, mr)); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	mr.Close()
	if err := d.Probe(context.Background(), testConnection(t, mr)); err == nil {
		t.Error("Probe against a closed server should fail")
	}
}

func TestSetManyWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	h, err := (&Driver{}).Open(context.Background(), testConnection(t, mr))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()
	kv := h.(driver.KeyValue)

	entries := []driver.Entry{
		{Key: "user:1", Value: []byte(`{"id":1}`)},
		{Key: "user:2", Value: []byte(`{"id":2}`)},
	}
	if err := kv.SetMany(context.Background(), entries, time.Minute); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	got, err := mr.Get("user:2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"id":2}` {
		t.Errorf("user:2 = %q", got)
	}
	if ttl := mr.TTL("user:1"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestSetWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	h, err := (&Driver{}).Open(context.Background(), testConnection(t, mr))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if err := h.(driver.KeyValue).Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != 0 {
		t.Errorf("TTL = %v, want none", ttl)
	}
}

func TestOptionsDatabase(t *testing.T) {
	tests := []struct {
		database string
		wantDB   int
		wantErr  bool
	}{
		{"", 0, false},
		{"3", 3, false},
		{"cache", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.database, func(t *testing.T) {
			opts, err := Options(&model.Connection{Host: "localhost", Database: tt.database})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && opts.DB != tt.wantDB {
				t.Errorf("DB = %d, want %d", opts.DB, tt.wantDB)
			}
			if err == nil && opts.Addr != "localhost:6379" {
				t.Errorf("Addr = %q", opts.Addr)
			}
		})
	}
}
