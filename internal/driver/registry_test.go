package driver

import (
	"context"
	"testing"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

type stubDriver struct {
	name    string
	aliases []string
	kind    model.ConnType
}

func (s *stubDriver) Name() string         { return s.name }
func (s *stubDriver) Aliases() []string    { return s.aliases }
func (s *stubDriver) Kind() model.ConnType { return s.kind }
func (s *stubDriver) Defaults() Defaults   { return Defaults{Port: 1} }
func (s *stubDriver) Probe(context.Context, *model.Connection) error {
	return nil
}
func (s *stubDriver) Open(context.Context, *model.Connection) (Handle, error) {
	return nil, nil
}

func TestRegistryLookup(t *testing.T) {
	Register(&stubDriver{name: "stubsql", aliases: []string{"stub-sql"}, kind: model.RowStore})
	defer Unregister("stubsql")

	tests := []struct {
		name    string
		lookup  string
		want    string
		wantErr bool
	}{
		{"primary", "stubsql", "stubsql", false},
		{"alias", "stub-sql", "stubsql", false},
		{"case insensitive", "STUBSQL", "stubsql", false},
		{"unknown", "oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Get(tt.lookup)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get(%q) err = %v, wantErr %v", tt.lookup, err, tt.wantErr)
			}
			if err == nil && d.Name() != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.lookup, d.Name(), tt.want)
			}
		})
	}

	if got := Canonicalize("stub-sql"); got != "stubsql" {
		t.Errorf("Canonicalize = %q", got)
	}
	if !IsRegistered("stub-sql") {
		t.Error("alias should be registered")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(&stubDriver{name: "dupe", kind: model.KVStore})
	defer Unregister("dupe")

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register(&stubDriver{name: "dupe", kind: model.KVStore})
}

func TestForConnectionChecksKind(t *testing.T) {
	Register(&stubDriver{name: "stubkv", kind: model.KVStore})
	defer Unregister("stubkv")

	if _, err := ForConnection(&model.Connection{Type: model.KVStore, Config: model.Config{"driver": "stubkv"}}); err != nil {
		t.Errorf("matching kind: %v", err)
	}
	if _, err := ForConnection(&model.Connection{Type: model.RowStore, Config: model.Config{"driver": "stubkv"}}); err == nil {
		t.Error("expected kind mismatch error")
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1)", true},
		{"SHOW TABLES", true},
		{"explain select 1", true},
		{"VALUES (1)", true},
		{"UPDATE t SET a = 1", false},
		{"insert into t values (1)", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id int)", false},
		{"selectivity", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			if got := ReturnsRows(tt.stmt); got != tt.want {
				t.Errorf("ReturnsRows(%q) = %v, want %v", tt.stmt, got, tt.want)
			}
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		in     any
		want   any
	}{
		{"int text", "INT", []byte("42"), int64(42)},
		{"unsigned bigint", "UNSIGNED BIGINT", []byte("18446744073709551615"), uint64(18446744073709551615)},
		{"double", "DOUBLE", []byte("1.25"), 1.25},
		{"varchar", "VARCHAR", []byte("hi"), "hi"},
		{"decimal stays text", "DECIMAL", []byte("10.50"), "10.50"},
		{"bit true", "BIT", []byte{1}, true},
		{"non bytes pass through", "INT", int64(7), int64(7)},
		{"nil", "VARCHAR", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeValue(tt.dbType, tt.in); got != tt.want {
				t.Errorf("NormalizeValue(%q, %#v) = %#v, want %#v", tt.dbType, tt.in, got, tt.want)
			}
		})
	}
}

func TestSingleKey(t *testing.T) {
	cols := []Column{{Name: "id", Key: true}, {Name: "email"}}
	if k, ok := SingleKey(cols); !ok || k.Name != "id" {
		t.Errorf("SingleKey = %v, %v", k, ok)
	}
	cols = append(cols, Column{Name: "tenant", Key: true})
	if _, ok := SingleKey(cols); ok {
		t.Error("composite key should not yield a single key")
	}
}
