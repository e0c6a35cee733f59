package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
	colorDim      = "\033[2m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// PrintBanner writes the centred title block. Nothing is written when stdout
// is not a terminal so piped output stays clean.
func PrintBanner(w io.Writer, subtitle string) {
	if !IsTerminal() {
		return
	}

	banner := []string{
		"",
		"+------------------------------------------+",
		"|        CUSTOMER HEALTH BRIEF AGENT       |",
		"+------------------------------------------+",
	}

	width := termWidth()
	for _, l := range banner {
		fmt.Fprintf(w, "%s%s%s%s\n", pad(width, len(l)), colorNeonCyan, l, colorReset)
	}
	if subtitle != "" {
		fmt.Fprintf(w, "%s%s%s%s\n", pad(width, len(subtitle)), colorDim, subtitle, colorReset)
	}
	fmt.Fprintln(w)
}

func pad(width, n int) string {
	padding := (width - n) / 2
	if padding < 0 {
		padding = 0
	}
	return strings.Repeat(" ", padding)
}
