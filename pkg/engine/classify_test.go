package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		stmt       string
		wantType   StatementType
		wantResult bool
	}{
		{stmt: "SELECT * FROM person", wantType: StatementTypeDQL, wantResult: true},
		{stmt: "  with x AS (SELECT 1) SELECT * FROM x", wantType: StatementTypeDQL, wantResult: true},
		{stmt: "(SELECT 1) UNION (SELECT 2)", wantType: StatementTypeDQL, wantResult: true},
		{stmt: "FROM person", wantType: StatementTypeDQL, wantResult: true},
		{stmt: "-- note\nSELECT 1", wantType: StatementTypeDQL, wantResult: true},
		{stmt: "/* c */ show tables", wantType: StatementTypeUtility, wantResult: true},
		{stmt: "DESCRIBE person", wantType: StatementTypeUtility, wantResult: true},
		{stmt: "CREATE TABLE person(name VARCHAR)", wantType: StatementTypeDDL},
		{stmt: "INSERT INTO person VALUES ('a')", wantType: StatementTypeDML},
		{stmt: "INSERT INTO person VALUES ('a') RETURNING name", wantType: StatementTypeDML, wantResult: true},
		{stmt: "DELETE FROM person WHERE returning_flag", wantType: StatementTypeDML},
		{stmt: `USE "default"."default"`, wantType: StatementTypeUtility},
		{stmt: "SET threads = 2", wantType: StatementTypeUtility},
		{stmt: "BEGIN TRANSACTION", wantType: StatementTypeTCL},
		{stmt: "SELEKT *", wantType: StatementTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			info := Classify(tt.stmt)
			assert.Equal(t, tt.wantType, info.Type, info.Type.String())
			assert.Equal(t, tt.wantResult, info.ExpectsResultSet)
		})
	}
}

func TestStatementTypeString(t *testing.T) {
	assert.Equal(t, "DQL", StatementTypeDQL.String())
	assert.Equal(t, "OTHER", StatementTypeOther.String())
	assert.Equal(t, "UNKNOWN", StatementType(99).String())
}
