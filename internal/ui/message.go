package ui

import (
	"fmt"
	"io"
	"sync"
)

// A Printer prints messages at different verbosity levels.
type Printer interface {
	// E reports an error, it is printed regardless of verbosity.
	E(msg string, args ...interface{})
	// P prints essential messages (suppressed by --quiet).
	P(msg string, args ...interface{})
	// V prints verbose messages.
	V(msg string, args ...interface{})
	// VV prints very verbose messages.
	VV(msg string, args ...interface{})
}

// NoopPrinter discards all messages.
type NoopPrinter struct{}

var _ Printer = (*NoopPrinter)(nil)

func (*NoopPrinter) E(_ string, _ ...interface{}) {}

func (*NoopPrinter) P(_ string, _ ...interface{}) {}

func (*NoopPrinter) V(_ string, _ ...interface{}) {}

func (*NoopPrinter) VV(_ string, _ ...interface{}) {}

// Message writes messages to stdout and errors to stderr, filtered by
// verbosity: 0 quiet, 1 default, 2 verbose, 3 very verbose.
type Message struct {
	m         sync.Mutex
	stdout    io.Writer
	stderr    io.Writer
	verbosity uint
}

var _ Printer = (*Message)(nil)

// NewMessage returns a message printer.
func NewMessage(stdout, stderr io.Writer, verbosity uint) *Message {
	return &Message{
		stdout:    stdout,
		stderr:    stderr,
		verbosity: verbosity,
	}
}

func (m *Message) print(w io.Writer, msg string, args []interface{}) {
	m.m.Lock()
	defer m.m.Unlock()

	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	_, _ = fmt.Fprintf(w, msg, args...)
}

// E reports an error.
func (m *Message) E(msg string, args ...interface{}) {
	m.print(m.stderr, msg, args)
}

// P prints a message if verbosity >= 1.
func (m *Message) P(msg string, args ...interface{}) {
	if m.verbosity >= 1 {
		m.print(m.stdout, msg, args)
	}
}

// V prints a message if verbosity >= 2.
func (m *Message) V(msg string, args ...interface{}) {
	if m.verbosity >= 2 {
		m.print(m.stdout, msg, args)
	}
}

// VV prints a message if verbosity >= 3.
func (m *Message) VV(msg string, args ...interface{}) {
	if m.verbosity >= 3 {
		m.print(m.stdout, msg, args)
	}
}
