package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/softbus/internal/message"
)

// MulticastTarget is the reserved device name that receives traffic
// re-injected from a transport.
const MulticastTarget = "multicast"

// DefaultSyncTimeout is used when neither the envelope nor the engine
// options set a synchronous timeout.
const DefaultSyncTimeout = 5 * time.Second

// Mode selects whether a send waits for a reply.
type Mode int

// Send modes.
const (
	ModeAsync Mode = iota
	ModeSync
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	default:
		return "unknown"
	}
}

// ParseMode converts "async" or "sync" (case-insensitive) to a Mode.
// The empty string parses as ModeAsync.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "async":
		return ModeAsync, nil
	case "sync":
		return ModeSync, nil
	default:
		return 0, fmt.Errorf("%w: mode %q", ErrInvalidArgument, s)
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Envelope describes one send.
type Envelope struct {
	Target   string
	Kind     message.Kind
	Priority message.Priority
	Content  string
	Mode     Mode

	// Timeout bounds a synchronous wait. Zero uses the engine default.
	Timeout time.Duration
}

// Reply is the outcome of a send. For synchronous sends it carries the
// captured response; for asynchronous sends only Device, RequestID and
// Status are set.
type Reply struct {
	Device    string       `json:"device"`
	RequestID string       `json:"request_id"`
	MessageID string       `json:"message_id,omitempty"`
	Kind      message.Kind `json:"kind"`
	Content   string       `json:"content,omitempty"`
	Status    Status       `json:"status"`
}

// MemberResult reports one member's outcome during a group send.
type MemberResult struct {
	Device string
	Reply  Reply
	Status Status
	Err    error
}

// MemberFunc receives per-member results from SendGroup. It runs on the
// sending goroutine.
type MemberFunc func(MemberResult)

// Inbound is traffic received from a transport.
type Inbound struct {
	Source   string
	Group    string
	Kind     message.Kind
	Priority message.Priority
	Content  string
}

// Transport delivers a group message to remote peers. Broadcast returning
// nil means the transport accepted the message; the engine then skips local
// fan-out.
type Transport interface {
	Broadcast(ctx context.Context, group string, env Envelope) error
	Close() error
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
