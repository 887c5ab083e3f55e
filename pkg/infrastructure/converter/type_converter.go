// Package converter translates engine result sets to Apache Arrow records and
// back.
package converter

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// MetadataKeyType carries the engine's type name on every Arrow field, so a
// result read back from Arrow keeps its original column types.
const MetadataKeyType = "quire.type"

var typeMap = map[string]arrow.DataType{
	// Integer types
	"tinyint":   arrow.PrimitiveTypes.Int8,
	"smallint":  arrow.PrimitiveTypes.Int16,
	"integer":   arrow.PrimitiveTypes.Int32,
	"int":       arrow.PrimitiveTypes.Int32,
	"bigint":    arrow.PrimitiveTypes.Int64,
	"utinyint":  arrow.PrimitiveTypes.Uint8,
	"usmallint": arrow.PrimitiveTypes.Uint16,
	"uinteger":  arrow.PrimitiveTypes.Uint32,
	"ubigint":   arrow.PrimitiveTypes.Uint64,

	// Floating point types
	"real":   arrow.PrimitiveTypes.Float32,
	"float":  arrow.PrimitiveTypes.Float32,
	"double": arrow.PrimitiveTypes.Float64,

	"boolean": arrow.FixedWidthTypes.Boolean,
	"bool":    arrow.FixedWidthTypes.Boolean,

	"varchar": arrow.BinaryTypes.String,
	"text":    arrow.BinaryTypes.String,
	"string":  arrow.BinaryTypes.String,

	"blob":      arrow.BinaryTypes.Binary,
	"bytea":     arrow.BinaryTypes.Binary,
	"varbinary": arrow.BinaryTypes.Binary,

	// Date/Time types
	"date":                     arrow.FixedWidthTypes.Date32,
	"time":                     arrow.FixedWidthTypes.Time64us,
	"timestamp":                arrow.FixedWidthTypes.Timestamp_us,
	"timestamp_s":              arrow.FixedWidthTypes.Timestamp_us,
	"timestamp_ms":             arrow.FixedWidthTypes.Timestamp_us,
	"timestamp_ns":             arrow.FixedWidthTypes.Timestamp_us,
	"timestamptz":              arrow.FixedWidthTypes.Timestamp_us,
	"timestamp with time zone": arrow.FixedWidthTypes.Timestamp_us,
}

// ArrowType maps an engine type name to the Arrow type used on the wire.
// Types without a native mapping (HUGEINT, DECIMAL, UUID, INTERVAL, nested
// types) travel as their string rendering.
func ArrowType(engineType string) arrow.DataType {
	if dt, ok := typeMap[strings.ToLower(strings.TrimSpace(engineType))]; ok {
		return dt
	}
	return arrow.BinaryTypes.String
}

// Schema builds an Arrow schema for the given columns. types may be shorter
// than columns; missing entries default to strings.
func Schema(columns, types []string) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, name := range columns {
		engineType := "VARCHAR"
		if i < len(types) && types[i] != "" {
			engineType = types[i]
		}
		fields[i] = arrow.Field{
			Name:     name,
			Type:     ArrowType(engineType),
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{MetadataKeyType}, []string{engineType}),
		}
	}
	return arrow.NewSchema(fields, nil)
}
