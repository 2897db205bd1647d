package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxContentLength is the largest inline content a message may carry, in bytes.
const MaxContentLength = 1024

// Message is one unit of delivery addressed to a single target.
//
// A message is built by New, handed to exactly one Queue, and consumed by the
// drain step that pops it. It carries its content inline and mirrors it in a
// separately owned Payload.
type Message struct {
	ID        string
	Target    string
	Kind      Kind
	Priority  Priority
	Content   string
	ReplyTo   string // ID of the message this one answers, if any
	Timestamp time.Time

	payload *Payload
}

// New builds a fully-formed message. Nothing is enqueued; a failed build
// leaves no trace anywhere.
func New(target string, kind Kind, priority Priority, content string) (*Message, error) {
	if target == "" {
		return nil, ErrInvalidTarget
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, int(kind))
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(priority))
	}
	if len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLong, len(content), MaxContentLength)
	}

	return &Message{
		ID:        uuid.NewString(),
		Target:    target,
		Kind:      kind,
		Priority:  priority,
		Content:   content,
		Timestamp: time.Now(),
		payload:   NewPayload([]byte(content)),
	}, nil
}

// TakePayload moves the payload out of the message. Subsequent calls return nil.
func (m *Message) TakePayload() *Payload {
	p := m.payload
	m.payload = nil
	return p
}

// PayloadLen returns the size of the payload still attached to the message.
func (m *Message) PayloadLen() int {
	return m.payload.Len()
}

// Snapshot returns a copy of the message's public fields.
func (m *Message) Snapshot() Snapshot {
	return Snapshot{
		ID:         m.ID,
		Target:     m.Target,
		Kind:       m.Kind,
		Priority:   m.Priority,
		Content:    m.Content,
		ReplyTo:    m.ReplyTo,
		Timestamp:  m.Timestamp,
		PayloadLen: m.payload.Len(),
	}
}

// Snapshot is an immutable view of a message, safe to keep after the
// message itself has been consumed.
type Snapshot struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Kind       Kind      `json:"kind"`
	Priority   Priority  `json:"priority"`
	Content    string    `json:"content"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	PayloadLen int       `json:"payload_len"`
}
