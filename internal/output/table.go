package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders sheets as rounded ASCII tables.
type TableFormatter struct{}

// Render draws s with its notes listed underneath.
func (f *TableFormatter) Render(s Sheet) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if s.Title != "" {
		t.SetTitle(s.Title)
	}
	t.AppendHeader(toRow(s.Header))
	for _, row := range s.Rows {
		t.AppendRow(toRow(row))
	}
	if len(s.Footer) > 0 {
		t.AppendFooter(toRow(s.Footer))
	}

	var sb strings.Builder
	sb.WriteString(t.Render())
	for _, note := range s.Notes {
		sb.WriteString("\n")
		sb.WriteString(note)
	}
	return sb.String()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}
