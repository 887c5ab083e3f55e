package converter

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrowType(t *testing.T) {
	tests := []struct {
		engineType string
		want       arrow.DataType
	}{
		{engineType: "TINYINT", want: arrow.PrimitiveTypes.Int8},
		{engineType: "INTEGER", want: arrow.PrimitiveTypes.Int32},
		{engineType: "BIGINT", want: arrow.PrimitiveTypes.Int64},
		{engineType: "UBIGINT", want: arrow.PrimitiveTypes.Uint64},
		{engineType: "DOUBLE", want: arrow.PrimitiveTypes.Float64},
		{engineType: "BOOLEAN", want: arrow.FixedWidthTypes.Boolean},
		{engineType: "VARCHAR", want: arrow.BinaryTypes.String},
		{engineType: "BLOB", want: arrow.BinaryTypes.Binary},
		{engineType: "DATE", want: arrow.FixedWidthTypes.Date32},
		{engineType: "TIMESTAMP WITH TIME ZONE", want: arrow.FixedWidthTypes.Timestamp_us},
		{engineType: "DECIMAL(18,2)", want: arrow.BinaryTypes.String},
		{engineType: "HUGEINT", want: arrow.BinaryTypes.String},
		{engineType: "INTEGER[]", want: arrow.BinaryTypes.String},
	}

	for _, tt := range tests {
		t.Run(tt.engineType, func(t *testing.T) {
			assert.True(t, arrow.TypeEqual(tt.want, ArrowType(tt.engineType)), "got %s", ArrowType(tt.engineType))
		})
	}
}

func TestSchema(t *testing.T) {
	schema := Schema([]string{"id", "name"}, []string{"INTEGER"})
	require.Equal(t, 2, schema.NumFields())

	id := schema.Field(0)
	assert.Equal(t, arrow.PrimitiveTypes.Int32, id.Type)
	assert.True(t, id.Nullable)
	idx := id.Metadata.FindKey(MetadataKeyType)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "INTEGER", id.Metadata.Values()[idx])

	// Missing type defaults to VARCHAR.
	assert.Equal(t, arrow.BinaryTypes.String, schema.Field(1).Type)
}
