package cmd

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// colorEnabled reports whether stdout is an interactive terminal capable
// of more than the ANSI-less profile, mirroring the teacher's CLI output
// gating: no color when piped or redirected.
func colorEnabled() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
}

// agentStatusStyle colors an agent status for roster output, falling back
// to the plain string when the terminal can't render color.
func agentStatusStyle(status string) string {
	if !colorEnabled() {
		return status
	}
	out := termenv.NewOutput(os.Stdout)
	switch status {
	case "idle":
		return out.String(status).Foreground(out.Color("2")).String()
	case "busy":
		return out.String(status).Foreground(out.Color("3")).String()
	case "offline":
		return out.String(status).Foreground(out.Color("1")).String()
	default:
		return status
	}
}
