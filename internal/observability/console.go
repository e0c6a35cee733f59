package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

// Console prints human-facing results; logs go through zap instead.
type Console struct {
	out     io.Writer
	maxRows int
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, maxRows: 20}
}

func (c *Console) OK(format string, args ...any) {
	color.New(color.FgGreen, color.Bold).Fprint(c.out, "[OK] ")
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Warn(format string, args ...any) {
	color.New(color.FgYellow, color.Bold).Fprint(c.out, "[!] ")
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Fail(format string, args ...any) {
	color.New(color.FgRed, color.Bold).Fprint(c.out, "[FAIL] ")
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Info(format string, args ...any) {
	color.New(color.FgCyan).Fprint(c.out, "[*] ")
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Health prints a coloured health label.
func (c *Console) Health(label string) {
	var col *color.Color
	switch strings.ToLower(label) {
	case "green":
		col = color.New(color.FgGreen, color.Bold)
	case "yellow":
		col = color.New(color.FgYellow, color.Bold)
	case "red":
		col = color.New(color.FgRed, color.Bold)
	default:
		col = color.New(color.FgWhite)
	}
	fmt.Fprint(c.out, "Health Score: ")
	col.Fprintln(c.out, strings.ToUpper(label))
}

// Table prints up to maxRows rows, noting how many were left out.
func (c *Console) Table(columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	shown := rows
	if len(shown) > c.maxRows {
		shown = shown[:c.maxRows]
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(columns...).
		Rows(shown...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	fmt.Fprintln(c.out, t.Render())

	if extra := len(rows) - len(shown); extra > 0 {
		fmt.Fprintf(c.out, "... and %d more rows\n", extra)
	}
}

// Markdown renders md for the terminal, falling back to the raw text.
func (c *Console) Markdown(md string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		if out, err := renderer.Render(md); err == nil {
			fmt.Fprint(c.out, out)
			return
		}
	}
	fmt.Fprintln(c.out, md)
}
