package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func strPtr(s string) *string { return &s }

func TestMapType(t *testing.T) {
	tests := []struct {
		native string
		want   string
	}{
		{"int(11)", "integer"},
		{"INTEGER", "integer"},
		{"mediumint(8)", "integer"},
		{"bigint(20)", "bigint"},
		{"tinyint(1)", "smallint"},
		{"smallint(6)", "smallint"},
		{"float", "real"},
		{"double", "double precision"},
		{"double precision", "double precision"},
		{"decimal(10,2)", "numeric(10,2)"},
		{"numeric", "numeric"},
		{"char(3)", "character(3)"},
		{"nchar(2)", "character(2)"},
		{"varchar(255)", "character varying(255)"},
		{"nvarchar(max)", "text"},
		{"varchar", "character varying"},
		{"longtext", "text"},
		{"ntext", "text"},
		{"date", "date"},
		{"datetime", "timestamp"},
		{"datetime(3)", "timestamp"},
		{"timestamp", "timestamp"},
		{"datetime2(7)", "timestamp"},
		{"smalldatetime", "timestamp"},
		{"time", "time"},
		{"year(4)", "integer"},
		{"blob", "bytea"},
		{"longblob", "bytea"},
		{"varbinary(16)", "bytea"},
		{"image", "bytea"},
		{"enum('a','b')", "character varying"},
		{"set('x','y')", "character varying"},
		{"json", "jsonb"},
		{"bit(1)", "boolean"},
		{"boolean", "boolean"},
		{"uniqueidentifier", "uuid"},
		{"datetimeoffset", "timestamptz"},
		{"money", "numeric(19,4)"},
		{"smallmoney", "numeric(10,4)"},
		{"geometry", "text"},
		{"something odd", "text"},

		// unsigned widening
		{"tinyint(3) unsigned", "smallint"},
		{"smallint(5) unsigned", "integer"},
		{"int(10) unsigned", "bigint"},
		{"mediumint unsigned", "bigint"},
		{"bigint(20) unsigned zerofill", "numeric(20)"},
		{"decimal(8,2) unsigned", "numeric(8,2)"},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			if got := MapType(tt.native); got != tt.want {
				t.Errorf("MapType(%q) = %q, want %q", tt.native, got, tt.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	info := ParseType("INT(10) UNSIGNED ZEROFILL")
	if info.Base != "int" || !info.Unsigned || len(info.Args) != 1 || info.Args[0] != "10" {
		t.Errorf("ParseType = %+v", info)
	}
	info = ParseType("decimal(12, 4)")
	if info.Base != "decimal" || len(info.Args) != 2 || info.Args[1] != "4" {
		t.Errorf("ParseType = %+v", info)
	}
}

func TestColumnDefinition(t *testing.T) {
	tests := []struct {
		name string
		col  driver.Column
		want string
	}{
		{
			name: "not null without default",
			col:  driver.Column{Name: "id", Type: "int(11)"},
			want: `"id" integer NOT NULL`,
		},
		{
			name: "nullable",
			col:  driver.Column{Name: "email", Type: "varchar(255)", Nullable: true},
			want: `"email" character varying(255) NULL`,
		},
		{
			name: "numeric default unquoted",
			col:  driver.Column{Name: "qty", Type: "int", Default: strPtr("0")},
			want: `"qty" integer NOT NULL DEFAULT 0`,
		},
		{
			name: "text default quoted",
			col:  driver.Column{Name: "status", Type: "varchar(16)", Default: strPtr("active")},
			want: `"status" character varying(16) NOT NULL DEFAULT 'active'`,
		},
		{
			name: "quote escaped",
			col:  driver.Column{Name: "note", Type: "varchar(32)", Default: strPtr("it's")},
			want: `"note" character varying(32) NOT NULL DEFAULT 'it''s'`,
		},
		{
			name: "current timestamp unquoted",
			col:  driver.Column{Name: "created_at", Type: "timestamp", Default: strPtr("CURRENT_TIMESTAMP")},
			want: `"created_at" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		},
		{
			name: "current timestamp with precision",
			col:  driver.Column{Name: "updated_at", Type: "datetime(3)", Default: strPtr("CURRENT_TIMESTAMP(3)")},
			want: `"updated_at" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		},
		{
			name: "sql server getdate",
			col:  driver.Column{Name: "loaded_at", Type: "datetime2", Default: strPtr("(getdate())")},
			want: `"loaded_at" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		},
		{
			name: "literal date quoted",
			col:  driver.Column{Name: "since", Type: "date", Default: strPtr("2020-01-01")},
			want: `"since" date NOT NULL DEFAULT '2020-01-01'`,
		},
		{
			name: "bit default becomes boolean",
			col:  driver.Column{Name: "active", Type: "bit(1)", Default: strPtr("b'1'")},
			want: `"active" boolean NOT NULL DEFAULT TRUE`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColumnDefinition(tt.col); got != tt.want {
				t.Errorf("ColumnDefinition() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreateTableDDL(t *testing.T) {
	cols := []driver.Column{
		{Name: "id", Type: "int(10) unsigned", Key: true},
		{Name: "email", Type: "varchar(255)", Nullable: true},
		{Name: "status", Type: "varchar(16)", Default: strPtr("active")},
	}
	want := `CREATE TABLE IF NOT EXISTS "public"."users" (
    "id" bigint NOT NULL,
    "email" character varying(255) NULL,
    "status" character varying(16) NOT NULL DEFAULT 'active',
    "import_time" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY ("id")
)`
	if got := CreateTableDDL("public", "users", cols); got != want {
		t.Errorf("CreateTableDDL() =\n%s\nwant\n%s", got, want)
	}
}

func TestCreateTableDDLKeyRules(t *testing.T) {
	composite := []driver.Column{
		{Name: "order_id", Type: "int", Key: true},
		{Name: "line", Type: "int", Key: true},
	}
	if ddl := CreateTableDDL("s", "t", composite); strings.Contains(ddl, "PRIMARY KEY") {
		t.Errorf("composite key should not produce a PRIMARY KEY clause:\n%s", ddl)
	}

	none := []driver.Column{{Name: "v", Type: "text", Nullable: true}}
	if ddl := CreateTableDDL("s", "t", none); strings.Contains(ddl, "PRIMARY KEY") {
		t.Errorf("keyless table should not produce a PRIMARY KEY clause:\n%s", ddl)
	}

	withImport := []driver.Column{
		{Name: "id", Type: "int", Key: true},
		{Name: "import_time", Type: "datetime"},
	}
	ddl := CreateTableDDL("s", "t", withImport)
	if n := strings.Count(ddl, `"import_time"`); n != 1 {
		t.Errorf("import_time appears %d times, want 1:\n%s", n, ddl)
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct {
		ref       string
		wantNS    string
		wantTable string
	}{
		{"users", "", "users"},
		{"shop.users", "shop", "users"},
		{"db.sales.orders", "sales", "orders"},
	}
	for _, tt := range tests {
		ns, table := SplitQualified(tt.ref)
		if ns != tt.wantNS || table != tt.wantTable {
			t.Errorf("SplitQualified(%q) = (%q, %q), want (%q, %q)", tt.ref, ns, table, tt.wantNS, tt.wantTable)
		}
	}
}

type fakeSink struct {
	namespaces map[string]bool
	tables     map[string]bool
	ddl        []string
	failDDL    error
}

func (f *fakeSink) Kind() model.ConnType         { return model.ColumnarStore }
func (f *fakeSink) DriverName() string           { return "fake" }
func (f *fakeSink) Close() error                 { return nil }
func (f *fakeSink) Ping(context.Context) error   { return nil }
func (f *fakeSink) QuoteIdent(name string) string { return `"` + name + `"` }
func (f *fakeSink) Query(context.Context, string, ...any) (*driver.ResultSet, error) {
	return &driver.ResultSet{}, nil
}
func (f *fakeSink) Execute(context.Context, string) (*driver.StatementResult, error) {
	return &driver.StatementResult{}, nil
}
func (f *fakeSink) NamespaceExists(_ context.Context, ns string) (bool, error) {
	return f.namespaces[ns], nil
}
func (f *fakeSink) CreateNamespace(_ context.Context, ns string) error {
	f.namespaces[ns] = true
	return nil
}
func (f *fakeSink) TableExists(_ context.Context, ns, table string) (bool, error) {
	return f.tables[ns+"."+table], nil
}
func (f *fakeSink) ExecDDL(_ context.Context, ddl string) error {
	if f.failDDL != nil {
		return f.failDDL
	}
	f.ddl = append(f.ddl, ddl)
	return nil
}
func (f *fakeSink) InsertBatch(context.Context, string, string, []string, [][]any) (int64, error) {
	return 0, nil
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	cols := []driver.Column{{Name: "id", Type: "int", Key: true}}

	sink := &fakeSink{namespaces: map[string]bool{}, tables: map[string]bool{}}
	res, err := Ensure(ctx, sink, "analytics", "users", cols)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !res.NamespaceCreated || !res.TableCreated || len(sink.ddl) != 1 {
		t.Errorf("first ensure = %+v, ddl = %d", res, len(sink.ddl))
	}

	sink.tables["analytics.users"] = true
	res, err = Ensure(ctx, sink, "analytics", "users", cols)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if res.NamespaceCreated || res.TableCreated || len(sink.ddl) != 1 {
		t.Errorf("second ensure should be a no-op: %+v, ddl = %d", res, len(sink.ddl))
	}
}

func TestEnsureDDLFailure(t *testing.T) {
	sink := &fakeSink{
		namespaces: map[string]bool{"public": true},
		tables:     map[string]bool{},
		failDDL:    errors.New("permission denied"),
	}
	_, err := Ensure(context.Background(), sink, "public", "users", []driver.Column{{Name: "id", Type: "int"}})
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("err = %v", err)
	}
}
