package audit

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one security event. Identity is a hint (email, username, or key
// prefix) — never a plaintext secret.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Identity  string            `json:"identity,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the auth core.
const (
	EventRegister       = "register"
	EventLogin          = "login"
	EventRefresh        = "refresh"
	EventLogout         = "logout"
	EventTokenRevoked   = "token_revoked"
	EventRateLimited    = "rate_limited"
	EventAPIKeyCreated  = "api_key_created"
	EventAPIKeyAuth     = "api_key_auth"
	EventAPIKeyRevoked  = "api_key_revoked"
	EventAPIKeyRotated  = "api_key_rotated"
	EventUserDeactivate = "user_deactivated"
)

// Logger records security events off the request path. Record never blocks:
// events go into a buffered channel and a single dispatcher goroutine writes
// JSON lines to the writer and fans out to live subscribers. When the buffer
// is full the event is dropped and counted.
type Logger struct {
	events  chan Event
	writer  io.Writer
	dropped atomic.Uint64

	mu          sync.Mutex
	subscribers map[chan Event]struct{}

	stop      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewLogger creates a logger writing JSON lines to w. A nil writer disables
// file output but keeps subscriber fan-out.
func NewLogger(w io.Writer, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Logger{
		events:      make(chan Event, buffer),
		writer:      w,
		subscribers: make(map[chan Event]struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an event. It is safe for concurrent use, never blocks the
// caller, and may be called at any point relative to Close; the events channel
// is never closed, so a late Record from an in-flight handler just counts as
// dropped instead of panicking.
func (l *Logger) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case <-l.stop:
		l.dropped.Add(1)
		return
	default:
	}
	select {
	case l.events <- e:
	default:
		l.dropped.Add(1)
	}
}

// Subscribe returns a live event feed and a cancel function. Slow subscribers
// miss events rather than stalling the dispatcher.
func (l *Logger) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subscribers[ch]; ok {
			delete(l.subscribers, ch)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// Dropped returns the number of events discarded due to a full buffer.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close drains pending events and stops the dispatcher. Safe to call more
// than once.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	<-l.done

	l.mu.Lock()
	for ch := range l.subscribers {
		delete(l.subscribers, ch)
		close(ch)
	}
	l.mu.Unlock()
}

func (l *Logger) run() {
	defer close(l.done)

	for {
		select {
		case e := <-l.events:
			l.dispatch(e)
		case <-l.stop:
			// Drain whatever was enqueued before the stop.
			for {
				select {
				case e := <-l.events:
					l.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) dispatch(e Event) {
	if l.writer != nil {
		if data, err := json.Marshal(e); err == nil {
			l.writer.Write(data)
			l.writer.Write([]byte("\n"))
		}
	}

	l.mu.Lock()
	for ch := range l.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()
}
