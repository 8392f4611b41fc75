package driver

import "strings"

// Column describes one column of a source table.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"` // native type text, e.g. "int(10) unsigned"
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Key      bool    `json:"key"`
}

// ColumnNames returns the column names in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// SingleKey returns the key column when exactly one column carries the key flag.
func SingleKey(cols []Column) (Column, bool) {
	var (
		key   Column
		count int
	)
	for _, c := range cols {
		if c.Key {
			key = c
			count++
		}
	}
	return key, count == 1
}

// HasColumn reports whether a column with the given name exists (case-insensitive).
func HasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

var rowKeywords = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"describe": true,
	"desc":     true,
	"explain":  true,
	"values":   true,
	"table":    true,
}

// ReturnsRows classifies a statement by its leading keyword.
func ReturnsRows(stmt string) bool {
	s := strings.TrimLeft(stmt, " \t\r\n(")
	end := strings.IndexAny(s, " \t\r\n(;")
	if end >= 0 {
		s = s[:end]
	}
	return rowKeywords[strings.ToLower(s)]
}
