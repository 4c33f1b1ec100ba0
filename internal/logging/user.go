package logging

import (
	"fmt"
	"io"
	"os"
)

// User-facing output with status glyphs, separate from structured logs.
// Out and ErrOut are swappable so commands can be tested.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// UserInfo prints an info message to Out.
func UserInfo(format string, args ...any) {
	fmt.Fprintf(Out, "ℹ "+format+"\n", args...)
}

// UserSuccess prints a success message to Out.
func UserSuccess(format string, args ...any) {
	fmt.Fprintf(Out, "✓ "+format+"\n", args...)
}

// UserWarning prints a warning message to ErrOut.
func UserWarning(format string, args ...any) {
	fmt.Fprintf(ErrOut, "⚠ "+format+"\n", args...)
}

// UserError prints an error message to ErrOut.
func UserError(format string, args ...any) {
	fmt.Fprintf(ErrOut, "✗ "+format+"\n", args...)
}
