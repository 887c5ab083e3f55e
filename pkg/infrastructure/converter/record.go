package converter

import (
	"fmt"
	"math/big"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/models"
)

// ToRecord materialises a result set as a single Arrow record. The caller owns
// the returned record.
func ToRecord(alloc memory.Allocator, rs models.ResultSet) (arrow.Record, error) {
	schema := Schema(rs.Columns, rs.Types)

	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for _, row := range rs.Rows {
		for i, col := range rs.Columns {
			if err := appendValue(builder.Field(i), row[col]); err != nil {
				return nil, errors.Wrapf(err, errors.CodeInternal, "column %q", col)
			}
		}
	}

	return builder.NewRecord(), nil
}

// FromRecords reads records back into columns, engine types and rows.
func FromRecords(schema *arrow.Schema, records []arrow.Record) (columns, types []string, rows []map[string]any) {
	columns = make([]string, schema.NumFields())
	types = make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		columns[i] = f.Name
		if idx := f.Metadata.FindKey(MetadataKeyType); idx >= 0 {
			types[i] = f.Metadata.Values()[idx]
		} else {
			types[i] = f.Type.String()
		}
	}

	rows = []map[string]any{}
	for _, rec := range records {
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make(map[string]any, len(columns))
			for c, name := range columns {
				arr := rec.Column(c)
				if arr.IsNull(r) {
					row[name] = nil
					continue
				}
				row[name] = arr.GetOneForMarshal(r)
			}
			rows = append(rows, row)
		}
	}
	return columns, types, rows
}

func appendValue(fb array.Builder, value any) error {
	if value == nil {
		fb.AppendNull()
		return nil
	}

	switch b := fb.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return mismatch(value, "bool")
		}
		b.Append(v)
	case *array.Int8Builder:
		v, ok := asInt64(value)
		if !ok {
			return mismatch(value, "int8")
		}
		b.Append(int8(v))
	case *array.Int16Builder:
		v, ok := asInt64(value)
		if !ok {
			return mismatch(value, "int16")
		}
		b.Append(int16(v))
	case *array.Int32Builder:
		v, ok := asInt64(value)
		if !ok {
			return mismatch(value, "int32")
		}
		b.Append(int32(v))
	case *array.Int64Builder:
		v, ok := asInt64(value)
		if !ok {
			return mismatch(value, "int64")
		}
		b.Append(v)
	case *array.Uint8Builder:
		v, ok := asUint64(value)
		if !ok {
			return mismatch(value, "uint8")
		}
		b.Append(uint8(v))
	case *array.Uint16Builder:
		v, ok := asUint64(value)
		if !ok {
			return mismatch(value, "uint16")
		}
		b.Append(uint16(v))
	case *array.Uint32Builder:
		v, ok := asUint64(value)
		if !ok {
			return mismatch(value, "uint32")
		}
		b.Append(uint32(v))
	case *array.Uint64Builder:
		v, ok := asUint64(value)
		if !ok {
			return mismatch(value, "uint64")
		}
		b.Append(v)
	case *array.Float32Builder:
		v, ok := asFloat64(value)
		if !ok {
			return mismatch(value, "float32")
		}
		b.Append(float32(v))
	case *array.Float64Builder:
		v, ok := asFloat64(value)
		if !ok {
			return mismatch(value, "float64")
		}
		b.Append(v)
	case *array.StringBuilder:
		b.Append(toString(value))
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.AppendString(v)
		default:
			return mismatch(value, "binary")
		}
	case *array.Date32Builder:
		t, ok := value.(time.Time)
		if !ok {
			return mismatch(value, "date")
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.Time64Builder:
		t, ok := value.(time.Time)
		if !ok {
			return mismatch(value, "time")
		}
		micros := int64(t.Hour())*3600000000 + int64(t.Minute())*60000000 +
			int64(t.Second())*1000000 + int64(t.Nanosecond())/1000
		b.Append(arrow.Time64(micros))
	case *array.TimestampBuilder:
		t, ok := value.(time.Time)
		if !ok {
			return mismatch(value, "timestamp")
		}
		b.Append(arrow.Timestamp(t.UnixMicro()))
	default:
		return errors.New(errors.CodeInternal, fmt.Sprintf("unsupported builder %T", fb))
	}
	return nil
}

func mismatch(value any, want string) error {
	return errors.New(errors.CodeInternal, fmt.Sprintf("cannot store %T as %s", value, want))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case *big.Int:
		if n.IsInt64() {
			return n.Int64(), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	if i, ok := asInt64(v); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
