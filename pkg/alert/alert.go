// Package alert is the user-facing boundary for terminal, non-retryable
// failures. The core calls into it only to report unrecoverable errors,
// never to drive control flow.
package alert

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Action is a button offered alongside an alert.
type Action struct {
	Label string
	Run   func()
}

// Sink accepts alerts and navigation requests from the core.
type Sink interface {
	// Alert reports a terminal failure with a title, a human-readable
	// message and optional action buttons.
	Alert(title, message string, actions ...Action)

	// RequestPreviousView asks the UI to navigate back to the previous or
	// default view after a failure invalidated the current one.
	RequestPreviousView()
}

// ConsoleSink renders alerts to a terminal writer. It is the default Sink
// for the CLI; a GUI front end would supply its own.
type ConsoleSink struct {
	out        io.Writer
	titleStyle lipgloss.Style
	msgStyle   lipgloss.Style
}

// NewConsoleSink creates a sink writing to out, defaulting to stderr.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleSink{
		out:        out,
		titleStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		msgStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
	}
}

func (s *ConsoleSink) Alert(title, message string, actions ...Action) {
	slog.Error("alert raised", "title", title, "message", message)
	fmt.Fprintln(s.out, s.titleStyle.Render(title))
	fmt.Fprintln(s.out, s.msgStyle.Render(message))
	for _, action := range actions {
		fmt.Fprintln(s.out, s.msgStyle.Render("  ["+action.Label+"]"))
	}
}

func (s *ConsoleSink) RequestPreviousView() {}
