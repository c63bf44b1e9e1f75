// Package output prints CLI results as coloured text, tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)

	riskColors = map[string]*color.Color{
		"HIGH":   color.New(color.FgRed, color.Bold),
		"MEDIUM": color.New(color.FgYellow),
		"LOW":    color.New(color.FgBlue),
		"INFO":   color.New(color.FgWhite),
	}

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetWriters redirects output, e.g. to a cobra command's streams.
func SetWriters(out, errOut io.Writer) {
	stdout, stderr = out, errOut
}

func Success(format string, a ...interface{}) {
	successColor.Fprintf(stdout, "✓ "+format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	errorColor.Fprintf(stderr, "✗ "+format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	infoColor.Fprintf(stdout, format+"\n", a...)
}

func Warn(format string, a ...interface{}) {
	warnColor.Fprintf(stdout, "⚠ "+format+"\n", a...)
}

// Risk colours a risk label; unknown labels are returned as is.
func Risk(risk string) string {
	if c, ok := riskColors[strings.ToUpper(risk)]; ok {
		return c.Sprint(risk)
	}
	return risk
}

func JSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render pads every column to its widest cell. Cells beyond the header count
// are dropped.
func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	for i, header := range t.headers {
		headerColor.Fprint(stdout, pad(header, widths[i]))
	}
	fmt.Fprintln(stdout)

	for i := range t.headers {
		fmt.Fprint(stdout, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(stdout)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprint(stdout, pad(cell, widths[i]))
			}
		}
		fmt.Fprintln(stdout)
	}
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s)+2)
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
