package message

import "sync"

// Payload is a single-owner binary buffer attached to a message.
//
// Ownership moves with the message: the sender builds it, the queue holds it
// while the message is resident, and the drain step takes it out with
// Message.TakePayload and releases it once the handler returns. Release is
// idempotent; Bytes returns nil afterwards.
type Payload struct {
	mu   sync.Mutex
	data []byte
}

// NewPayload returns a payload holding a private copy of b.
func NewPayload(b []byte) *Payload {
	data := make([]byte, len(b))
	copy(data, b)
	return &Payload{data: data}
}

// Bytes returns the payload contents, or nil once released.
// The slice must not be retained past Release.
func (p *Payload) Bytes() []byte {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// Len returns the payload size in bytes, or 0 once released.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// Release drops the payload contents.
func (p *Payload) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
}
