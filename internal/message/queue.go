package message

import (
	"fmt"
	"iter"
	"sync"

	"github.com/google/btree"
)

// btreeDegree is the fan-out of the queue's ordered index.
const btreeDegree = 8

// QueueOptions bounds a Queue. Zero values mean unbounded.
type QueueOptions struct {
	// MaxLen is the maximum number of resident messages.
	MaxLen int

	// MaxBytes is the maximum total payload size of resident messages.
	MaxBytes int
}

// entry is the queue's index key. The ordering fields are captured at
// insert time so later mutation of the Message cannot corrupt the tree.
type entry struct {
	priority Priority
	stamp    int64
	seq      uint64
	msg      *Message
}

// less orders by priority descending, then timestamp ascending, then
// insertion order.
func less(a, b entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.stamp != b.stamp {
		return a.stamp < b.stamp
	}
	return a.seq < b.seq
}

// Queue is a per-target priority queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Inserts from any sender may
//     interleave with pops from a drain pass.
type Queue struct {
	mu     sync.Mutex
	tree   *btree.BTreeG[entry]
	opts   QueueOptions
	seq    uint64
	bytes  int
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue(opts QueueOptions) *Queue {
	return &Queue{
		tree: btree.NewG(btreeDegree, less),
		opts: opts,
	}
}

// Insert takes ownership of m. On error the caller keeps ownership.
func (q *Queue) Insert(m *Message) error {
	if m == nil {
		return ErrInvalidTarget
	}

	size := m.PayloadLen()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.opts.MaxLen > 0 && q.tree.Len() >= q.opts.MaxLen {
		return fmt.Errorf("%w: %d messages", ErrQueueFull, q.opts.MaxLen)
	}
	if q.opts.MaxBytes > 0 && q.bytes+size > q.opts.MaxBytes {
		return fmt.Errorf("%w: %d of %d bytes in use", ErrNoMemory, q.bytes, q.opts.MaxBytes)
	}

	q.seq++
	q.tree.ReplaceOrInsert(entry{
		priority: m.Priority,
		stamp:    m.Timestamp.UnixNano(),
		seq:      q.seq,
		msg:      m,
	})
	q.bytes += size
	return nil
}

// PeekMin returns a snapshot of the message that PopMin would return next.
func (q *Queue) PeekMin() (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tree.Min()
	if !ok {
		return Snapshot{}, false
	}
	return e.msg.Snapshot(), true
}

// PopMin removes and returns the next message. Ownership passes to the caller.
func (q *Queue) PopMin() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tree.DeleteMin()
	if !ok {
		return nil, false
	}
	q.bytes -= e.msg.PayloadLen()
	return e.msg, true
}

// Drain returns a sequence that pops messages until the queue is empty.
// Each yielded message is owned by the consumer. Stopping early leaves the
// remaining messages queued; ranging again resumes from the current head.
func (q *Queue) Drain() iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		for {
			m, ok := q.PopMin()
			if !ok {
				return
			}
			if !yield(m) {
				return
			}
		}
	}
}

// Len returns the number of resident messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Bytes returns the total payload size of resident messages.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Pending returns snapshots of up to limit resident messages in delivery
// order. A limit <= 0 returns all of them.
func (q *Queue) Pending(limit int) []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.tree.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Snapshot, 0, n)
	q.tree.Ascend(func(e entry) bool {
		if len(out) == n {
			return false
		}
		out = append(out, e.msg.Snapshot())
		return true
	})
	return out
}

// Close releases every resident payload and rejects further inserts.
// It returns the number of messages dropped.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true

	dropped := q.tree.Len()
	q.tree.Ascend(func(e entry) bool {
		e.msg.TakePayload().Release()
		return true
	})
	q.tree.Clear(false)
	q.bytes = 0
	return dropped
}

