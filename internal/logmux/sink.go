package logmux

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"golang.org/x/term"
)

// Sink is a terminal-like view over a stream. A sink may go away at any time;
// the stream's buffer stays the source of truth.
type Sink interface {
	SendLine(line string) error
	Dispose()
}

// Shower is implemented by sinks that can bring themselves to the front.
type Shower interface {
	Show()
}

// SinkFactory creates a sink for the stream with the given id and name.
type SinkFactory func(id, name string) Sink

// DiscardSink accepts and drops every line.
type DiscardSink struct{}

func (DiscardSink) SendLine(string) error { return nil }
func (DiscardSink) Dispose()              {}

// DiscardFactory is a SinkFactory producing DiscardSinks.
func DiscardFactory(string, string) Sink { return DiscardSink{} }

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// StripANSI removes CSI escape sequences.
func StripANSI(s string) string {
	return ansiSequence.ReplaceAllString(s, "")
}

// ConsoleSink writes lines to a writer, prefixed with the stream name.
// Escape sequences are kept only when the writer is a terminal.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	name     string
	raw      bool
	disposed bool
}

func NewConsoleSink(w io.Writer, name string) *ConsoleSink {
	raw := false
	if f, ok := w.(*os.File); ok {
		raw = term.IsTerminal(int(f.Fd()))
	}
	return &ConsoleSink{w: w, name: name, raw: raw}
}

// ConsoleFactory returns a SinkFactory writing to w.
func ConsoleFactory(w io.Writer) SinkFactory {
	return func(_, name string) Sink {
		return NewConsoleSink(w, name)
	}
}

func (s *ConsoleSink) SendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSinkClosed
	}
	if !s.raw {
		line = StripANSI(line)
		if line == "" {
			return nil
		}
	}
	_, err := fmt.Fprintf(s.w, "[%s] %s\n", s.name, line)
	return err
}

func (s *ConsoleSink) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}
