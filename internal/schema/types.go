package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// TypeInfo is a parsed native column type.
type TypeInfo struct {
	Base     string   // lowercase base token, e.g. "varchar", "double precision"
	Args     []string // arguments inside the parentheses, if any
	Unsigned bool
}

var typePattern = regexp.MustCompile(`^([a-z0-9 ]+?)\s*(\((.*)\))?$`)

// ParseType splits a native type such as "int(10) unsigned zerofill" into
// its base token, arguments and unsigned flag.
func ParseType(native string) TypeInfo {
	s := strings.ToLower(strings.TrimSpace(native))
	var info TypeInfo
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		switch f {
		case "unsigned":
			info.Unsigned = true
		case "zerofill":
		default:
			kept = append(kept, f)
		}
	}
	s = strings.Join(kept, " ")

	m := typePattern.FindStringSubmatch(s)
	if m == nil {
		info.Base = s
		return info
	}
	info.Base = strings.TrimSpace(m[1])
	if m[2] != "" {
		for _, a := range strings.Split(m[3], ",") {
			info.Args = append(info.Args, strings.TrimSpace(a))
		}
	}
	return info
}

// simpleTypeMappings are source families that map to a fixed target type.
var simpleTypeMappings = map[string]string{
	// Integer types
	"int":       "integer",
	"integer":   "integer",
	"mediumint": "integer",
	"bigint":    "bigint",
	"tinyint":   "smallint",
	"smallint":  "smallint",
	"year":      "integer",

	// Floating point
	"float":            "real",
	"real":             "real",
	"double":           "double precision",
	"double precision": "double precision",

	// Text
	"text":       "text",
	"tinytext":   "text",
	"mediumtext": "text",
	"longtext":   "text",
	"ntext":      "text",

	// Date/time types
	"date":           "date",
	"datetime":       "timestamp",
	"timestamp":      "timestamp",
	"datetime2":      "timestamp",
	"smalldatetime":  "timestamp",
	"time":           "time",
	"datetimeoffset": "timestamptz",

	// Binary
	"blob":       "bytea",
	"tinyblob":   "bytea",
	"mediumblob": "bytea",
	"longblob":   "bytea",
	"binary":     "bytea",
	"varbinary":  "bytea",
	"image":      "bytea",

	// Other
	"enum":             "character varying",
	"set":              "character varying",
	"json":             "jsonb",
	"bit":              "boolean",
	"bool":             "boolean",
	"boolean":          "boolean",
	"uniqueidentifier": "uuid",
	"money":            "numeric(19,4)",
	"smallmoney":       "numeric(10,4)",
}

// sizedTypeMapping maps a family whose arguments carry over to the target.
type sizedTypeMapping struct {
	target            string
	maxTarget         string // used for (max) or lengths beyond the target limit
	preserveLength    bool
	preservePrecision bool
}

var sizedTypeMappings = map[string]sizedTypeMapping{
	"char":     {target: "character", maxTarget: "text", preserveLength: true},
	"nchar":    {target: "character", maxTarget: "text", preserveLength: true},
	"varchar":  {target: "character varying", maxTarget: "text", preserveLength: true},
	"nvarchar": {target: "character varying", maxTarget: "text", preserveLength: true},
	"decimal":  {target: "numeric", maxTarget: "numeric", preservePrecision: true},
	"numeric":  {target: "numeric", maxTarget: "numeric", preservePrecision: true},
}

// unsignedWidening moves unsigned integers up one size so every source value fits.
var unsignedWidening = map[string]string{
	"tinyint":   "smallint",
	"smallint":  "integer",
	"mediumint": "bigint",
	"int":       "bigint",
	"integer":   "bigint",
	"bigint":    "numeric(20)",
}

// PostgreSQL maximum varchar length before converting to text
const pgMaxVarcharLength = 10485760

// MapType returns the columnar-store type for a native source type.
// Unknown families map to text.
func MapType(native string) string {
	info := ParseType(native)
	if info.Unsigned {
		if t, ok := unsignedWidening[info.Base]; ok {
			return t
		}
	}
	if t, ok := simpleTypeMappings[info.Base]; ok {
		return t
	}
	if m, ok := sizedTypeMappings[info.Base]; ok {
		return applySizedMapping(m, info.Args)
	}
	return "text"
}

func applySizedMapping(m sizedTypeMapping, args []string) string {
	if len(args) == 0 || args[0] == "" {
		return m.target
	}
	if args[0] == "max" {
		return m.maxTarget
	}
	if m.preservePrecision {
		return fmt.Sprintf("%s(%s)", m.target, strings.Join(args, ","))
	}
	if m.preserveLength {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n <= 0 {
			return m.target
		}
		if n > pgMaxVarcharLength {
			return m.maxTarget
		}
		return fmt.Sprintf("%s(%d)", m.target, n)
	}
	return m.target
}

var numericTargets = map[string]bool{
	"integer":          true,
	"bigint":           true,
	"smallint":         true,
	"real":             true,
	"double precision": true,
	"numeric":          true,
	"boolean":          true,
}

var temporalTargets = map[string]bool{
	"date":        true,
	"time":        true,
	"timestamp":   true,
	"timestamptz": true,
}

func targetBase(target string) string {
	if i := strings.IndexByte(target, '('); i >= 0 {
		return target[:i]
	}
	return target
}

// IsNumeric reports whether defaults for the target type are written unquoted.
func IsNumeric(target string) bool { return numericTargets[targetBase(target)] }

// IsTemporal reports whether target is a date or time type.
func IsTemporal(target string) bool { return temporalTargets[targetBase(target)] }
