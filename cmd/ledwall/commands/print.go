package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

func failure(w io.Writer, format string, a ...any) {
	red.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, a...))
}

// field prints an aligned "key: value" line.
func field(w io.Writer, key string, value any) {
	cyan.Fprintf(w, "  %-22s", key+":")
	fmt.Fprintf(w, " %v\n", value)
}
