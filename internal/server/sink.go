package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rybkr/legendlog/internal/logmux"
)

// terminalSink streams log lines to one websocket as text frames.
type terminalSink struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newTerminalSink(conn *websocket.Conn) *terminalSink {
	return &terminalSink{conn: conn}
}

func (t *terminalSink) SendLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return logmux.ErrSinkClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *terminalSink) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "log closed"))
	t.conn.Close()
}
