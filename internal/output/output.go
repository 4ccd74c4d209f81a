package output

import (
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Sheet is the tabular form of a result before it is rendered.
type Sheet struct {
	Title  string
	Header []string
	Rows   [][]string
	Footer []string
	Notes  []string
}

// Formatter renders sheets. JSON output bypasses sheets and marshals the
// underlying values, see Render.
type Formatter interface {
	Render(s Sheet) string
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns the sheet formatter for format. JSON has none.
func NewFormatter(format Format) Formatter {
	if format == FormatMarkdown {
		return &MarkdownFormatter{}
	}
	return &TableFormatter{}
}

// Render marshals value for JSON and renders sheet otherwise.
func Render(format Format, value any, sheet func() Sheet) (string, error) {
	if format == FormatJSON {
		return (&JSONFormatter{Indent: true}).Encode(value)
	}
	return NewFormatter(format).Render(sheet()), nil
}
