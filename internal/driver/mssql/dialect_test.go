package mssql

import (
	"net/url"
	"testing"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func TestCleanDefault(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"((0))", "0"},
		{"(N'active')", "active"},
		{"('it''s')", "it's"},
		{"(getdate())", "CURRENT_TIMESTAMP"},
		{"((1.5))", "1.5"},
		{"(newid())", "newid()"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cleanDefault(tt.in); got != tt.want {
				t.Errorf("cleanDefault(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNativeType(t *testing.T) {
	tests := []struct {
		row  columnRow
		want string
	}{
		{columnRow{DataType: "nvarchar", MaxLength: 50}, "nvarchar(50)"},
		{columnRow{DataType: "varchar", MaxLength: -1}, "varchar(max)"},
		{columnRow{DataType: "decimal", Precision: 18, Scale: 2}, "decimal(18,2)"},
		{columnRow{DataType: "INT", Precision: 10}, "int"},
		{columnRow{DataType: "uniqueidentifier"}, "uniqueidentifier"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := nativeType(tt.row); got != tt.want {
				t.Errorf("nativeType(%+v) = %q, want %q", tt.row, got, tt.want)
			}
		})
	}
}

func TestPageQuery(t *testing.T) {
	d := &Dialect{}
	got := d.PageQuery("SELECT * FROM [dbo].[orders]", "", 100, 200)
	want := "SELECT * FROM [dbo].[orders] ORDER BY (SELECT NULL) OFFSET 200 ROWS FETCH NEXT 100 ROWS ONLY"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	got = d.PageQuery("SELECT * FROM [orders]", "[id]", 10, 0)
	want = "SELECT * FROM [orders] ORDER BY [id] OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildDSN(t *testing.T) {
	d := &Dialect{}
	dsn, err := d.BuildDSN(&model.Connection{
		Host:     "sql.internal",
		Username: "sa",
		Password: "p@ss word",
		Database: "sales",
		Config:   model.Config{"trust_server_certificate": true},
	})
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	if u.Host != "sql.internal:1433" {
		t.Errorf("host = %q", u.Host)
	}
	if pw, _ := u.User.Password(); pw != "p@ss word" {
		t.Errorf("password not preserved")
	}
	q := u.Query()
	if q.Get("database") != "sales" || q.Get("encrypt") != "true" || q.Get("TrustServerCertificate") != "true" {
		t.Errorf("query = %v", q)
	}
}

func TestQualifyTable(t *testing.T) {
	d := &Dialect{}
	if got := d.QualifyTable("sales.orders"); got != "[sales].[orders]" {
		t.Errorf("got %q", got)
	}
	if got := d.QualifyTable("odd]name"); got != "[odd]]name]" {
		t.Errorf("got %q", got)
	}
}
