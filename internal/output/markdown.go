package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders sheets as markdown tables.
type MarkdownFormatter struct{}

// Render writes s as a markdown table under an optional heading, with the
// footer in bold and notes as a bullet list.
func (f *MarkdownFormatter) Render(s Sheet) string {
	var sb strings.Builder
	if s.Title != "" {
		sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(s.Title)))
	}

	writeMarkdownRow(&sb, s.Header)
	sep := make([]string, len(s.Header))
	for i, h := range s.Header {
		sep[i] = strings.Repeat("-", max(len(h), 3))
	}
	sb.WriteString("|" + strings.Join(sep, "|") + "|\n")
	for _, row := range s.Rows {
		writeMarkdownRow(&sb, row)
	}

	if len(s.Footer) > 0 {
		cells := make([]string, 0, len(s.Footer))
		for _, c := range s.Footer {
			if c != "" {
				cells = append(cells, c)
			}
		}
		sb.WriteString(fmt.Sprintf("\n**%s**\n", escapeMarkdownCell(strings.Join(cells, " "))))
	}
	if len(s.Notes) > 0 {
		sb.WriteString("\n")
		for _, note := range s.Notes {
			sb.WriteString("- " + escapeMarkdownCell(note) + "\n")
		}
	}
	return sb.String()
}

func writeMarkdownRow(sb *strings.Builder, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = " " + escapeMarkdownCell(c) + " "
	}
	sb.WriteString("|" + strings.Join(escaped, "|") + "|\n")
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
