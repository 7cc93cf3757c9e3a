// Package audit implements the append-only JSON-lines audit trail: a
// non-blocking Report call enqueues an event on a buffered channel of 256
// events (dropping the event when the buffer is full), and a single
// background goroutine drains it to disk.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/sitegui/knockd/internal/stringhash"
)

// EventType names the kind of audit event recorded.
type EventType string

const (
	EventIPAllowed        EventType = "ip_allowed"
	EventNewLoginSession  EventType = "new_login_session"
	EventNewInviteeSession EventType = "new_invitee_session"
	EventNewInviteLink    EventType = "new_invite_link"
)

// Event is one audit log line. Fields unused by a given Type are omitted
// from the JSON encoding.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	IP        netip.Addr      `json:"ip,omitzero"`
	UserName  string          `json:"user_name,omitempty"`
	Hash      stringhash.Hash `json:"hash,omitzero"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Log drains a channel of events into an append-only file. The zero value
// is not usable; construct with Open.
type Log struct {
	file      *os.File
	writer    *bufio.Writer
	events    chan Event
	done      chan struct{}
	logger    *slog.Logger
	dropCount dropCounter
}

// dropCounter is satisfied by prometheus.Counter without importing it here.
type dropCounter interface {
	Inc()
}

// Open opens (creating if necessary) the audit file at path and starts the
// background drain goroutine. Callers must call Close to flush pending
// events and release the file.
func Open(path string, logger *slog.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}

	l := &Log{
		file:   f,
		writer: bufio.NewWriter(f),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.drain()
	return l, nil
}

// Report enqueues event without blocking the caller. The channel is not
// unbounded: it holds up to 256 pending events. A full buffer means the drain
// goroutine is behind, and Report still does not block - the event is
// dropped and logged instead of risking a caller stall on the hot path.
//
// A nil Log is valid and Report is then a no-op: forward_auth_log_file is
// an optional setting, and callers do not need to guard every call site on
// whether an audit log was configured.
func (l *Log) Report(event Event) {
	if l == nil {
		return
	}
	select {
	case l.events <- event:
	default:
		l.logger.Warn("audit log backlog full, dropping event", "type", event.Type)
		if l.dropCount != nil {
			l.dropCount.Inc()
		}
	}
}

// SetDropCounter wires a Prometheus counter incremented every time Report
// drops an event due to backlog. Optional; nil by default.
func (l *Log) SetDropCounter(c dropCounter) {
	if l == nil {
		return
	}
	l.dropCount = c
}

// drain writes every event to disk as one JSON object per line, with a
// best-effort flush after each record.
func (l *Log) drain() {
	defer close(l.done)
	for event := range l.events {
		data, err := json.Marshal(event)
		if err != nil {
			l.logger.Error("audit: failed to marshal event", "error", err)
			continue
		}
		data = append(data, '\n')
		if _, err := l.writer.Write(data); err != nil {
			l.logger.Error("audit: failed to write event", "error", err)
			continue
		}
		if err := l.writer.Flush(); err != nil {
			l.logger.Error("audit: failed to flush event", "error", err)
		}
	}
}

// Close stops accepting new events, waits for the drain goroutine to
// finish writing everything already enqueued, and closes the file. A nil
// Log closes cleanly as a no-op.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	close(l.events)
	<-l.done
	return l.file.Close()
}
