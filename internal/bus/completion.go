package bus

import (
	"fmt"
	"sync"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// result is what a completion delivers to its waiter.
type result struct {
	reply Reply
	err   error
}

// completion binds one armed synchronous send to its target.
type completion struct {
	token     uint64
	requestID string
	done      chan result // buffered(1), written at most once
}

// completionTable holds at most one armed completion per target.
//
// Thread Safety:
//   - arm, disarm, fire and remove are mutually exclusive. A completion is
//     removed from the table in the same critical section that signals it,
//     so a late insert never reaches a waiter whose send has returned.
type completionTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]*completion
}

func newCompletionTable() *completionTable {
	return &completionTable{entries: make(map[string]*completion)}
}

// arm installs a completion for target, replacing any existing one. The
// returned token identifies it for disarm.
func (t *completionTable) arm(target, requestID string) (<-chan result, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	c := &completion{
		token:     t.next,
		requestID: requestID,
		done:      make(chan result, 1),
	}
	t.entries[target] = c
	return c.done, c.token
}

// disarm removes the completion for target if it is still the one identified
// by token.
func (t *completionTable) disarm(target string, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.entries[target]; ok && c.token == token {
		delete(t.entries, target)
	}
}

// inserted is called after every insert attempt into target's queue.
//
// The armed completion fires for the first message that answers the request:
// one whose ReplyTo names the request, or an uncorrelated Response or Error.
// The request itself never fires it.
func (t *completionTable) inserted(target string, m *message.Message, insertErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.entries[target]
	if !ok || m.ID == c.requestID {
		return
	}
	if m.ReplyTo != c.requestID && (m.ReplyTo != "" || !m.Kind.IsReply()) {
		return
	}

	reply := Reply{
		Device:    target,
		RequestID: c.requestID,
		MessageID: m.ID,
		Kind:      m.Kind,
		Content:   m.Content,
		Status:    StatusOf(insertErr),
	}
	var err error
	switch {
	case insertErr != nil:
		err = fmt.Errorf("enqueueing reply: %w", insertErr)
	case m.Kind == message.KindError:
		reply.Status = StatusError
		err = fmt.Errorf("%w: %s", ErrHandlerFailed, m.Content)
	}
	t.fireLocked(target, c, result{reply: reply, err: err})
}

// handled is called after a driver returns for message msgID. A failure for
// the armed request completes it; success leaves it waiting for a reply.
func (t *completionTable) handled(target, msgID string, handlerErr error) {
	if handlerErr == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.entries[target]
	if !ok || c.requestID != msgID {
		return
	}
	t.fireLocked(target, c, result{
		reply: Reply{
			Device:    target,
			RequestID: msgID,
			Status:    StatusError,
		},
		err: handlerErr,
	})
}

// remove completes any waiter on target with ErrDeviceNotFound. Used when
// the device is unregistered.
func (t *completionTable) remove(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.entries[target]
	if !ok {
		return
	}
	t.fireLocked(target, c, result{
		reply: Reply{Device: target, RequestID: c.requestID, Status: StatusNotFound},
		err:   fmt.Errorf("%w: %s unregistered while waiting", device.ErrDeviceNotFound, target),
	})
}

// armed reports whether target has an armed completion.
func (t *completionTable) armed(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[target]
	return ok
}

func (t *completionTable) fireLocked(target string, c *completion, r result) {
	delete(t.entries, target)
	select {
	case c.done <- r:
	default:
	}
}
