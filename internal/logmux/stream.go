package logmux

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotLive is returned when appending to a finalized stream. Finalized
	// streams are filled once, by the multiplexer, when they are created.
	ErrNotLive = errors.New("logmux: stream is not live")

	ErrUnknownStream = errors.New("logmux: unknown stream")
	ErrSinkClosed    = errors.New("logmux: sink closed")
)

// cursorRewind moves the cursor to the start of the previous line and clears it.
const cursorRewind = "\x1b[1A\x1b[K"

// Stream is a named, ordered buffer of log lines with an optional sink.
//
// Sinks are called with the stream lock held and must not call back into the
// stream.
type Stream struct {
	id      string
	name    string
	live    bool
	newSink SinkFactory
	tick    time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	lines   []string
	sink    Sink
	pending *pendingStatus
	retired bool
	// index of the last placeholder line left by a stopped pending status, or -1
	placeholder int
}

func newStream(id, name string, live bool, newSink SinkFactory, tick time.Duration, logger *zap.Logger) *Stream {
	return &Stream{
		id:          id,
		name:        name,
		live:        live,
		newSink:     newSink,
		tick:        tick,
		logger:      logger.With(zap.String("log", id)),
		placeholder: -1,
	}
}

func (s *Stream) ID() string   { return s.id }
func (s *Stream) Name() string { return s.name }
func (s *Stream) Live() bool   { return s.live }

// Lines returns a copy of the buffer.
func (s *Stream) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Attached reports whether a sink is currently attached.
func (s *Stream) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// Append adds lines to a live stream. Empty input is a no-op.
func (s *Stream) Append(lines ...string) error {
	if !s.live {
		return ErrNotLive
	}
	s.write(lines, false)
	return nil
}

// write buffers lines unconditionally and forwards them to the sink, attaching
// a fresh one if none is present. With rewindFirst, a placeholder left at the
// end of the buffer is replaced by the first line.
func (s *Stream) write(lines []string, rewindFirst bool) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rewind := rewindFirst && s.placeholder >= 0 && s.placeholder == len(s.lines)-1
	if rewind {
		s.lines = s.lines[:s.placeholder]
	}
	s.placeholder = -1
	s.lines = append(s.lines, lines...)

	if s.sink != nil {
		for i, line := range lines {
			if i == 0 && rewind {
				line = cursorRewind + line
			}
			if err := s.sink.SendLine(line); err != nil {
				s.logger.Warn("Sink rejected line, detaching", zap.Error(err))
				s.sink = nil
				break
			}
		}
	}
	// The sink may have been closed while the stream was still receiving.
	// Append silently to a new one.
	s.attachLocked()
}

// attachLocked creates a sink when none is attached and replays the buffer
// into it. s.mu must be held.
func (s *Stream) attachLocked() {
	if s.sink != nil || s.retired || s.newSink == nil {
		return
	}
	s.sink = s.newSink(s.id, s.name)
	s.replayLocked()
}

func (s *Stream) replayLocked() {
	for _, line := range s.lines {
		if err := s.sink.SendLine(line); err != nil {
			s.logger.Warn("Sink rejected replay, detaching", zap.Error(err))
			s.sink = nil
			return
		}
	}
}

// Activate makes sure a sink is attached and brings it to the front. The
// buffer is not touched.
func (s *Stream) Activate() *Stream {
	s.mu.Lock()
	s.attachLocked()
	sink := s.sink
	s.mu.Unlock()

	if shower, ok := sink.(Shower); ok {
		shower.Show()
	}
	return s
}

// Attach replaces the current sink with sink and replays the buffer into it.
// The previous sink is disposed.
func (s *Stream) Attach(sink Sink) {
	s.mu.Lock()
	old := s.sink
	s.sink = sink
	s.replayLocked()
	s.mu.Unlock()

	if old != nil && old != sink {
		old.Dispose()
	}
}

// Detach forgets sink if it is the attached one, without disposing it. It is
// used when the view went away on its own.
func (s *Stream) Detach(sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != sink {
		return false
	}
	s.sink = nil
	return true
}

// dispose stops the pending status and tears down the sink. The stream keeps
// its buffer but never attaches a sink again.
func (s *Stream) dispose() {
	s.StopPendingStatus()

	s.mu.Lock()
	s.retired = true
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	if sink != nil {
		sink.Dispose()
	}
}

type pendingStatus struct {
	line    string
	dots    int
	index   int
	stopped bool // guarded by Stream.mu
	quit    chan struct{}
	done    chan struct{}
}

func (p *pendingStatus) text() string {
	return p.line + strings.Repeat(".", p.dots%3+1)
}

// StartPendingStatus shows line with an animated suffix of one to three dots,
// rewriting the same line on every tick. A running pending status is replaced.
func (s *Stream) StartPendingStatus(line string) *Stream {
	s.StopPendingStatus()

	p := &pendingStatus{
		line: line,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.placeholder = -1
	s.lines = append(s.lines, p.text())
	p.index = len(s.lines) - 1
	if s.sink != nil {
		if err := s.sink.SendLine(p.text()); err != nil {
			s.sink = nil
		}
	}
	s.attachLocked()
	s.pending = p
	s.mu.Unlock()

	go s.animate(p)
	return s
}

func (s *Stream) animate(p *pendingStatus) {
	defer close(p.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			s.advance(p)
		}
	}
}

func (s *Stream) advance(p *pendingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.stopped {
		return
	}

	p.dots++
	text := p.text()
	send := cursorRewind + text
	if p.index == len(s.lines)-1 {
		s.lines[p.index] = text
	} else {
		// Other lines were written after the placeholder; move it to the end.
		s.lines = append(s.lines, text)
		p.index = len(s.lines) - 1
		send = text
	}

	if s.sink != nil {
		if err := s.sink.SendLine(send); err != nil {
			s.logger.Warn("Sink rejected pending status, detaching", zap.Error(err))
			s.sink = nil
		}
	}
	s.attachLocked()
}

// StopPendingStatus halts the ticker. No tick is emitted after it returns.
// Calling it without a running pending status is a no-op.
func (s *Stream) StopPendingStatus() *Stream {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	if p != nil && !p.stopped {
		p.stopped = true
		s.placeholder = p.index
		close(p.quit)
	}
	s.mu.Unlock()

	if p != nil {
		<-p.done
	}
	return s
}

// PendingStatusRunning reports whether a pending status ticker is active.
func (s *Stream) PendingStatusRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
