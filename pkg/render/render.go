// Package render prints cell outputs for the command line.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/TFMV/quire/pkg/coordinator"
	"github.com/TFMV/quire/pkg/instance"
	"github.com/TFMV/quire/pkg/models"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

// Formats lists the supported formats.
var Formats = []string{FormatTable, FormatJSON, FormatCSV, FormatMarkdown}

// Output writes out to w in format. Unknown formats fall back to a table.
func Output(w io.Writer, out coordinator.Output, format string) error {
	if format == FormatJSON {
		return writeJSON(w, out)
	}

	if out.IsError() {
		_, err := fmt.Fprintf(w, "[%d] error: %s\n", out.ExecutionOrder, out.Message)
		return err
	}

	sets := out.ResultSets()
	if len(sets) == 0 {
		_, err := fmt.Fprintf(w, "[%d] ok\n", out.ExecutionOrder)
		return err
	}
	for _, rs := range sets {
		if _, err := fmt.Fprintf(w, "[%d] %s\n", out.ExecutionOrder, summary(rs.Statement)); err != nil {
			return err
		}
		if err := ResultSet(w, rs, format); err != nil {
			return err
		}
	}
	return nil
}

// ResultSet writes one result set. Statements without columns print their
// affected row count.
func ResultSet(w io.Writer, rs models.ResultSet, format string) error {
	if len(rs.Columns) == 0 {
		_, err := fmt.Fprintf(w, "OK, %d rows affected (%s)\n", rs.RowsAffected, rs.Duration)
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(rs.Columns))
	for i, col := range rs.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range rs.Rows {
		row := make(table.Row, len(rs.Columns))
		for i, col := range rs.Columns {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}

	switch format {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		t.Render()
	}

	if format == FormatCSV {
		return nil
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rs.Rows))
	return err
}

func writeJSON(w io.Writer, out coordinator.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// summary returns the first line of stmt, shortened for a heading.
func summary(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}

// Sessions writes a table of live sessions.
func Sessions(w io.Writer, stats []instance.Stats) {
	if len(stats) == 0 {
		_, _ = fmt.Fprintln(w, "(no sessions)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"key", "backend", "state", "generation", "restarts", "age"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Key, s.Backend, s.State, s.Generation, s.Restarts, time.Since(s.Created).Round(time.Second)})
	}
	t.Render()
}
