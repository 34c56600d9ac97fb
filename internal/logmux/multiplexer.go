// Package logmux keeps one line buffer per log (live check runs, finalized
// check runs and transient status messages) and mirrors each buffer into a
// disposable terminal sink.
package logmux

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rybkr/legendlog/internal/answer"
)

const (
	// PendingStatusPrefix marks streams created by ShowPendingStatus.
	PendingStatusPrefix = "PendingStatus-"

	DefaultTickInterval = 500 * time.Millisecond
	DefaultFetchTimeout = 30 * time.Second

	highlightStart = "\x1b[91m"
	highlightEnd   = "\x1b[0m"
)

var lineBreak = regexp.MustCompile(`\r?\n`)

// FetchResult is a remote log response. Any status code is a valid result.
type FetchResult struct {
	StatusCode int
	Body       string
}

// Fetcher retrieves the log of a check run. final is set when the check run
// has concluded and the log will not change anymore.
type Fetcher interface {
	FetchLog(ctx context.Context, checkRunID string, final bool) (*FetchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, checkRunID string, final bool) (*FetchResult, error)

func (f FetcherFunc) FetchLog(ctx context.Context, checkRunID string, final bool) (*FetchResult, error) {
	return f(ctx, checkRunID, final)
}

// Translator renders localized texts.
type Translator interface {
	Text(key string, args ...string) string
}

type Option func(*Multiplexer)

func WithSinkFactory(f SinkFactory) Option {
	return func(m *Multiplexer) { m.newSink = f }
}

func WithFetcher(f Fetcher) Option {
	return func(m *Multiplexer) { m.fetcher = f }
}

func WithTranslator(t Translator) Option {
	return func(m *Multiplexer) { m.texts = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Multiplexer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTickInterval sets the pending status animation period.
func WithTickInterval(d time.Duration) Option {
	return func(m *Multiplexer) { m.tick = d }
}

// WithFetchTimeout bounds a single remote log fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Multiplexer) { m.fetchTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Multiplexer) { m.now = now }
}

// Multiplexer maps log ids to streams.
type Multiplexer struct {
	newSink      SinkFactory
	fetcher      Fetcher
	texts        Translator
	logger       *zap.Logger
	tick         time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	streams    map[string]*Stream
	fetchLocks map[string]*fetchLock
}

// fetchLock serializes ShowCheckRunLog per check run. refs is guarded by
// Multiplexer.mu.
type fetchLock struct {
	sem  *semaphore.Weighted
	refs int
}

func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		newSink:      DiscardFactory,
		logger:       zap.NewNop(),
		tick:         DefaultTickInterval,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		streams:      make(map[string]*Stream),
		fetchLocks:   make(map[string]*fetchLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fetcher == nil {
		m.fetcher = FetcherFunc(func(context.Context, string, bool) (*FetchResult, error) {
			return nil, errors.New("no log fetcher configured")
		})
	}
	return m
}

func (m *Multiplexer) text(key string, args ...string) string {
	if m.texts == nil {
		return key
	}
	return m.texts.Text(key, args...)
}

// GetOrCreate returns the stream for id, creating it if needed. A live
// stream requested as non-live is retired: its sink is disposed and a fresh,
// empty stream takes its place. A non-live stream is never turned back into
// a live one.
func (m *Multiplexer) GetOrCreate(id, name string, live bool) *Stream {
	m.mu.Lock()
	s, ok := m.streams[id]
	var retired *Stream
	if !ok || (s.live && !live) {
		if ok {
			retired = s
		}
		s = newStream(id, name, live, m.newSink, m.tick, m.logger)
		m.streams[id] = s
	}
	m.mu.Unlock()

	if retired != nil {
		m.logger.Debug("Retiring live log", zap.String("log", id))
		retired.dispose()
	}

	s.mu.Lock()
	s.attachLocked()
	s.mu.Unlock()
	return s
}

func (m *Multiplexer) Lookup(id string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	return s, ok
}

// IDs lists the known stream ids.
func (m *Multiplexer) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	return ids
}

// Append adds lines to an existing live stream.
func (m *Multiplexer) Append(id string, lines ...string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return s.Append(lines...)
}

// Attach connects sink to the stream with the given id and replays its buffer.
func (m *Multiplexer) Attach(id string, sink Sink) error {
	s, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	s.Attach(sink)
	return nil
}

// Detach forgets sink. The stream re-attaches a sink on its next write.
func (m *Multiplexer) Detach(id string, sink Sink) {
	if s, ok := m.Lookup(id); ok {
		s.Detach(sink)
	}
}

// Activate brings the sink of an existing stream to the front.
func (m *Multiplexer) Activate(id string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	s.Activate()
	return nil
}

// ShowPendingStatus creates a new pending status stream showing line and
// starts its animation.
func (m *Multiplexer) ShowPendingStatus(line string) *Stream {
	base := PendingStatusPrefix + strconv.FormatInt(m.now().UnixMilli(), 10)

	m.mu.Lock()
	id := base
	for n := 1; ; n++ {
		if _, taken := m.streams[id]; !taken {
			break
		}
		id = base + "-" + strconv.Itoa(n)
	}
	s := newStream(id, line, true, m.newSink, m.tick, m.logger)
	m.streams[id] = s
	m.mu.Unlock()

	return s.Activate().StartPendingStatus(line)
}

// ClearAllPendingStatuses stops and removes every pending status stream.
// Check run streams are left alone.
func (m *Multiplexer) ClearAllPendingStatuses() {
	m.mu.Lock()
	var cleared []*Stream
	for id, s := range m.streams {
		if strings.HasPrefix(id, PendingStatusPrefix) {
			cleared = append(cleared, s)
			delete(m.streams, id)
		}
	}
	m.mu.Unlock()

	for _, s := range cleared {
		s.dispose()
	}
}

// ShowCheckRunLog brings up the log of a check run, fetching it when the
// stream is new or becomes final. Calls for the same id run one at a time,
// each deciding afresh whether a fetch is needed. The fetch itself outlives
// ctx, bounded by the fetch timeout; ctx only limits the wait for a
// concurrent call. Remote failures end up highlighted in the stream; only
// transport errors are returned.
func (m *Multiplexer) ShowCheckRunLog(ctx context.Context, checkRunID, name string, live bool) error {
	if strings.HasPrefix(checkRunID, answer.DummyCheckRunPrefix) {
		return nil
	}
	unlock, err := m.lockFetch(ctx, checkRunID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.showCheckRunLog(context.WithoutCancel(ctx), checkRunID, name, live)
}

// lockFetch waits until no other ShowCheckRunLog runs for id.
func (m *Multiplexer) lockFetch(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.fetchLocks[id]
	if !ok {
		l = &fetchLock{sem: semaphore.NewWeighted(1)}
		m.fetchLocks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(m.fetchLocks, id)
		}
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		release()
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		release()
	}, nil
}

func (m *Multiplexer) showCheckRunLog(ctx context.Context, checkRunID, name string, live bool) error {
	if current, ok := m.Lookup(checkRunID); ok && !(current.Live() && !live) {
		current.Activate()
		return nil
	}

	s := m.GetOrCreate(checkRunID, name, live)
	s.Activate()
	s.StartPendingStatus(m.text("FetchingLog", checkRunID))

	if m.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()
	}
	res, err := m.fetcher.FetchLog(ctx, checkRunID, !live)

	s.StopPendingStatus()
	s.write(m.formatResult(res, err), true)

	if err != nil {
		m.logger.Warn("Failed to fetch check run log", zap.String("checkRunId", checkRunID), zap.Error(err))
		return fmt.Errorf("fetching log of %s: %w", checkRunID, err)
	}
	m.logger.Debug("Fetched check run log", zap.String("checkRunId", checkRunID), zap.Int("status", res.StatusCode))
	return nil
}

func (m *Multiplexer) formatResult(res *FetchResult, err error) []string {
	switch {
	case err != nil:
		return highlight(err.Error())
	case res.StatusCode == 404 || res.StatusCode == 410:
		return highlight(m.text("LogCleanedUp"))
	case res.StatusCode > 399:
		return highlight(SplitLines(res.Body)...)
	default:
		return SplitLines(res.Body)
	}
}

func highlight(lines ...string) []string {
	out := make([]string, 0, len(lines)+2)
	out = append(out, highlightStart)
	out = append(out, lines...)
	return append(out, highlightEnd)
}

// SplitLines splits text on LF or CRLF.
func SplitLines(text string) []string {
	return lineBreak.Split(text, -1)
}

// Close stops every pending status and disposes every sink.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.streams = make(map[string]*Stream)
	m.mu.Unlock()

	for _, s := range streams {
		s.dispose()
	}
}
