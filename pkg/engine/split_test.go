package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty",
			text: "   ",
			want: nil,
		},
		{
			name: "single without terminator",
			text: "SELECT 1",
			want: []string{"SELECT 1"},
		},
		{
			name: "preamble and query",
			text: Preamble + "\nSELECT * FROM person;",
			want: []string{`USE "default"."default"`, "SELECT * FROM person"},
		},
		{
			name: "semicolon inside string",
			text: "INSERT INTO t VALUES ('a;b'); SELECT 'it''s; fine'",
			want: []string{"INSERT INTO t VALUES ('a;b')", "SELECT 'it''s; fine'"},
		},
		{
			name: "semicolon inside quoted identifier",
			text: `SELECT 1 AS "x;y"; SELECT 2`,
			want: []string{`SELECT 1 AS "x;y"`, "SELECT 2"},
		},
		{
			name: "semicolon inside parentheses",
			text: "CREATE MACRO m(a) AS (a; ); SELECT 1",
			want: []string{"CREATE MACRO m(a) AS (a; )", "SELECT 1"},
		},
		{
			name: "comments are not split and comment-only segments are dropped",
			text: "-- first; still a comment\nSELECT 1; /* a; b */ SELECT 2; -- trailing",
			want: []string{"-- first; still a comment\nSELECT 1", "/* a; b */ SELECT 2"},
		},
		{
			name: "empty statements",
			text: ";;SELECT 1;;",
			want: []string{"SELECT 1"},
		},
		{
			name: "dollar-quoted body",
			text: "SELECT $$a;b$$ AS x; SELECT 2",
			want: []string{"SELECT $$a;b$$ AS x", "SELECT 2"},
		},
		{
			name: "tagged dollar quote encloses plain dollar quotes",
			text: "CREATE MACRO f() AS $fn$ 'x;' || $$y;$$ $fn$; SELECT 1",
			want: []string{"CREATE MACRO f() AS $fn$ 'x;' || $$y;$$ $fn$", "SELECT 1"},
		},
		{
			name: "positional parameter is not a dollar quote",
			text: "SELECT $1; SELECT a$b FROM t",
			want: []string{"SELECT $1", "SELECT a$b FROM t"},
		},
		{
			name: "unterminated dollar quote",
			text: "SELECT 1; SELECT $$open; x",
			want: []string{"SELECT 1", "SELECT $$open; x"},
		},
		{
			name: "escape string",
			text: `SELECT E'a\';b' AS x; SELECT e'\\'; SELECT 3`,
			want: []string{`SELECT E'a\';b' AS x`, `SELECT e'\\'`, "SELECT 3"},
		},
		{
			name: "backslash in standard string",
			text: `SELECT 'a\'; SELECT 2`,
			want: []string{`SELECT 'a\'`, "SELECT 2"},
		},
		{
			name: "unterminated block comment",
			text: "SELECT 1; /* open",
			want: []string{"SELECT 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.text))
		})
	}
}
