// Package termcolor decides whether ANSI colorization should be
// applied to CLI output and wraps strings in it when so. The
// NO_COLOR/CLICOLOR_FORCE precedence and the ANSI-wrap shape are
// grounded on dcosson-beads-lite's internal/cmd/app.go
// (App.IsColor/Colorize/SuccessColor/WarnColor), generalized to accept
// an io.Writer rather than being a method on App so it can be reused
// from both the daemon-lifecycle binary and any future CLI surface.
package termcolor

import (
	"io"
	"os"

	"golang.org/x/term"
)

// IsColor returns true if colored output should be used for out.
// Color is enabled when out is a TTY or CLICOLOR_FORCE=1 is set, and
// disabled when NO_COLOR is set (NO_COLOR always wins).
func IsColor(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") == "1" {
		return true
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return true
	}
	return false
}

// Colorize wraps s in the given ANSI code if color is enabled for out.
// code is the numeric part only, e.g. "31" for red or "38;5;214" for
// orange.
func Colorize(out io.Writer, s, code string) string {
	if !IsColor(out) {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Success wraps s in green if color is enabled for out.
func Success(out io.Writer, s string) string {
	return Colorize(out, s, "32")
}

// Warn wraps s in orange if color is enabled for out.
func Warn(out io.Writer, s string) string {
	return Colorize(out, s, "38;5;214")
}

// Error wraps s in red if color is enabled for out.
func Error(out io.Writer, s string) string {
	return Colorize(out, s, "31")
}
