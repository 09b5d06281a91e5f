// Package printer renders pacer's CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Output destinations, swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Field is one labelled detail shown under an error title.
type Field struct {
	Key   string
	Value string
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprintf(stdout, "✓ %s", fmt.Sprintf(format, a...))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	yellow.Fprintf(stdout, "⚠️  %s", fmt.Sprintf(format, a...))
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error to stderr and returns a plain error carrying
// only the title, for Cobra (which is configured not to print it again).
// Fields are printed in the order given.
func Error(title, explanation string, fields []Field, suggestions ...string) error {
	red.Fprintf(stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}

	if len(fields) > 0 {
		fmt.Fprintf(stderr, "\n")
		for _, f := range fields {
			fmt.Fprintf(stderr, "  %s: %s\n", f.Key, f.Value)
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Sample prints one telemetry sample as an aligned block.
func Sample(s telemetry.Sample) {
	bold.Fprintf(stdout, "Runner %d\n", s.RunnerID)
	fmt.Fprintf(stdout, "  position   (%.6f, %.6f)\n", s.PositionX, s.PositionY)
	fmt.Fprintf(stdout, "  speed      (%.3f, %.3f)\n", s.SpeedX, s.SpeedY)
	fmt.Fprintf(stdout, "  timestamp  %s\n", time.UnixMilli(s.TimestampMs).UTC().Format(time.RFC3339Nano))
}

// Waiting prints the placeholder state reported before any sample arrived.
func Waiting(status string, sinceMs int64) {
	yellow.Fprintf(stdout, "%s (since %s)\n", status, time.UnixMilli(sinceMs).UTC().Format(time.RFC3339))
}
