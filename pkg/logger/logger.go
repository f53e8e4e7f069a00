// Package logger builds the structured logger shared by every component.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr with timestamps. Debug enables
// debug level entries.
func New(debug bool) *log.Logger {
	return NewWithWriter(os.Stderr, debug)
}

// NewWithWriter is like New but writes to w.
func NewWithWriter(w io.Writer, debug bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "sunobot",
	})
	if debug {
		l.SetLevel(log.DebugLevel)
	}
	return l
}

// Discard returns a logger that drops every entry. Useful as a default.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// Or returns l or a discarding logger when l is nil.
func Or(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
