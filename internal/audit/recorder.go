package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/softbus/internal/bus"
)

// DefaultBufferSize is the recorder channel capacity when none is given.
const DefaultBufferSize = 256

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is a bus.Observer that writes dispatch events to a Repository.
//
// Observe never blocks the dispatching goroutine: events are queued on a
// bounded channel and written serially by one goroutine. When the channel is
// full the event is dropped and counted.
//
// Thread Safety:
//   - Observe and Dropped are safe for concurrent use.
//   - Start must be called once; Close drains queued events and waits.
type Recorder struct {
	repo   Repository
	ch     chan *DispatchLog
	logger Logger

	dropped atomic.Uint64
	closed  atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRecorder creates a recorder writing to repo.
//
// Parameters:
//   - repo: Destination repository
//   - bufferSize: Channel capacity; <= 0 uses DefaultBufferSize
//   - logger: Optional logger; nil discards
func NewRecorder(repo Repository, bufferSize int, logger Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		ch:     make(chan *DispatchLog, bufferSize),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Observe implements bus.Observer.
func (r *Recorder) Observe(ev bus.Event) {
	if r.closed.Load() {
		return
	}
	select {
	case r.ch <- FromEvent(ev):
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("dispatch log channel full, dropping entries", "stage", string(ev.Stage))
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Start runs the writer until ctx is cancelled or Close is called.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-ctx.Done():
			r.drain()
			return
		case <-r.stop:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry *DispatchLog) {
	// Entries outlive request contexts; writes are not cancelled.
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("dispatch log write failed",
			"stage", string(entry.Stage),
			"target", entry.Target,
			"error", err,
		)
	}
}

// Close stops accepting events, writes what is queued and waits for the
// writer. It must only be called after Start.
func (r *Recorder) Close() error {
	r.closed.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}
