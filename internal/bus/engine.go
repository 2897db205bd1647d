package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// Options configures an Engine.
type Options struct {
	// Logger receives engine diagnostics. Nil discards them.
	Logger Logger

	// SyncTimeout is the default synchronous wait. Zero means DefaultSyncTimeout.
	SyncTimeout time.Duration

	// Transport, if set, is tried first for asynchronous group sends.
	Transport Transport

	// Observers receive dispatch events.
	Observers []Observer
}

// Engine dispatches messages to registered devices.
//
// There is no background worker. A target's queue is drained only inside a
// send that targets it or an explicit ProcessMessages call.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - At most one drain pass runs per device; concurrent senders enqueue and
//     leave the work to whichever pass holds the queue.
//   - Synchronous sends to the same device are serialised.
type Engine struct {
	devices     *device.Registry
	groups      *device.GroupRegistry
	completions *completionTable
	syncTimeout time.Duration
	logger      Logger

	transportMu sync.RWMutex
	transport   Transport

	obsMu     sync.RWMutex
	observers []Observer

	closed atomic.Bool
}

// NewEngine creates a dispatch engine over the given registries.
//
// Parameters:
//   - devices: Device registry resolving targets
//   - groups: Group registry resolving fan-out membership
//   - opts: Optional logger, default timeout, transport and observers
//
// Returns:
//   - *Engine: Engine ready for use
func NewEngine(devices *device.Registry, groups *device.GroupRegistry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}

	e := &Engine{
		devices:     devices,
		groups:      groups,
		completions: newCompletionTable(),
		syncTimeout: opts.SyncTimeout,
		logger:      opts.Logger,
		transport:   opts.Transport,
		observers:   append([]Observer(nil), opts.Observers...),
	}
	devices.OnUnregister(e.completions.remove)
	return e
}

// Devices returns the device registry.
func (e *Engine) Devices() *device.Registry { return e.devices }

// Groups returns the group registry.
func (e *Engine) Groups() *device.GroupRegistry { return e.groups }

// SetTransport replaces the group transport. Nil disables it.
func (e *Engine) SetTransport(t Transport) {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	e.transport = t
}

func (e *Engine) currentTransport() Transport {
	e.transportMu.RLock()
	defer e.transportMu.RUnlock()
	return e.transport
}

// Send delivers one message to env.Target.
//
// In ModeAsync the message is enqueued, one drain pass is triggered and Send
// returns without waiting for a reply. In ModeSync Send waits until the
// target's driver answers (see device.Request.Reply) or the timeout elapses.
//
// A timed-out message stays queued; a later drain pass still delivers it.
//
// Returns:
//   - Reply: The captured response (ModeSync) or the request ID (ModeAsync)
//   - error: ErrInvalidArgument, device.ErrDeviceNotFound, a queue capacity
//     error, ErrTimeout, ErrHandlerFailed or ErrClosed
func (e *Engine) Send(ctx context.Context, env Envelope) (Reply, error) {
	d, m, err := e.prepare(env)
	if err != nil {
		return Reply{Device: env.Target, Status: StatusOf(err)}, err
	}

	if env.Mode == ModeSync {
		return e.sendSync(ctx, d, m, env)
	}

	if err := e.insert(d, m, env.Mode); err != nil {
		return Reply{Device: d.Name(), RequestID: m.ID, Status: StatusOf(err)}, err
	}
	if _, err := e.pump(ctx, d); err != nil && !errors.Is(err, ErrBusy) {
		e.logger.Warn("drain pass failed", "device", d.Name(), "error", err)
	}
	return Reply{Device: d.Name(), RequestID: m.ID, Kind: m.Kind, Status: StatusOK}, nil
}

// Post enqueues a message without triggering a drain pass. It returns the
// message ID.
func (e *Engine) Post(_ context.Context, env Envelope) (string, error) {
	d, m, err := e.prepare(env)
	if err != nil {
		return "", err
	}
	if err := e.insert(d, m, ModeAsync); err != nil {
		return "", err
	}
	return m.ID, nil
}

// ProcessMessages runs a drain pass over name's queue and returns the number
// of messages handled.
//
// Returns:
//   - int: Messages handled by this call
//   - error: device.ErrDeviceNotFound, or ErrBusy if another pass holds the queue
func (e *Engine) ProcessMessages(ctx context.Context, name string) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	d, err := e.devices.Find(name)
	if err != nil {
		return 0, err
	}
	return e.pump(ctx, d)
}

// Pending returns snapshots of up to limit messages queued for name, in
// delivery order.
func (e *Engine) Pending(name string, limit int) ([]message.Snapshot, error) {
	d, err := e.devices.Find(name)
	if err != nil {
		return nil, err
	}
	return d.Queue().Pending(limit), nil
}

// Close stops the engine accepting sends and closes the transport. The
// registries are owned by the caller and left intact.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t := e.currentTransport(); t != nil {
		if err := t.Close(); err != nil {
			return fmt.Errorf("closing transport: %w", err)
		}
	}
	return nil
}

// prepare resolves the target and builds the message. Nothing is enqueued.
func (e *Engine) prepare(env Envelope) (*device.Device, *message.Message, error) {
	if e.closed.Load() {
		return nil, nil, ErrClosed
	}
	if env.Target == "" {
		return nil, nil, fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	if env.Mode != ModeAsync && env.Mode != ModeSync {
		return nil, nil, fmt.Errorf("%w: mode %d", ErrInvalidArgument, int(env.Mode))
	}

	d, err := e.devices.Find(env.Target)
	if err != nil {
		return nil, nil, err
	}
	m, err := message.New(env.Target, env.Kind, env.Priority, env.Content)
	if err != nil {
		return nil, nil, err
	}
	return d, m, nil
}

func (e *Engine) sendSync(ctx context.Context, d *device.Device, m *message.Message, env Envelope) (Reply, error) {
	start := time.Now()
	timeout := env.Timeout
	if timeout <= 0 {
		timeout = e.syncTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := e.awaitReply(ctx, d, m)

	e.emit(Event{
		Stage:     StageCompleted,
		MessageID: m.ID,
		Target:    d.Name(),
		Kind:      m.Kind,
		Priority:  m.Priority,
		Mode:      ModeSync,
		Status:    StatusOf(err),
		Error:     errString(err),
		Content:   reply.Content,
		Duration:  time.Since(start),
	})
	return reply, err
}

func (e *Engine) awaitReply(ctx context.Context, d *device.Device, m *message.Message) (Reply, error) {
	name := d.Name()
	failed := func(err error) (Reply, error) {
		return Reply{Device: name, RequestID: m.ID, Status: StatusOf(err)}, err
	}

	if err := d.AcquireSync(ctx); err != nil {
		m.TakePayload().Release()
		return failed(e.waitErr(ctx, name))
	}
	defer d.ReleaseSync()

	done, token := e.completions.arm(name, m.ID)
	defer e.completions.disarm(name, token)

	if err := e.insert(d, m, ModeSync); err != nil {
		return failed(err)
	}

	// The pass runs on its own goroutine so a driver that never returns
	// cannot hold the caller past its deadline. It may still be draining
	// when the reply is handed back.
	go func() {
		if _, err := e.pump(ctx, d); err != nil && !errors.Is(err, ErrBusy) {
			e.logger.Warn("drain pass failed", "device", name, "error", err)
		}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return failed(e.waitErr(ctx, name))
	}
}

func (e *Engine) waitErr(ctx context.Context, name string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	return ctx.Err()
}

// insert hands m to d's queue and notifies the completion table. On failure
// m's payload is released.
func (e *Engine) insert(d *device.Device, m *message.Message, mode Mode) error {
	err := d.Queue().Insert(m)
	if err != nil {
		m.TakePayload().Release()
		err = fmt.Errorf("enqueueing to %s: %w", d.Name(), err)
	}
	e.completions.inserted(d.Name(), m, err)

	e.emit(Event{
		Stage:     StageSent,
		MessageID: m.ID,
		ReplyTo:   m.ReplyTo,
		Target:    d.Name(),
		Kind:      m.Kind,
		Priority:  m.Priority,
		Mode:      mode,
		Status:    StatusOf(err),
		Error:     errString(err),
		Content:   m.Content,
	})
	return err
}

// pump drains d until its queue is empty. If another pass holds the queue it
// returns ErrBusy; that pass will pick up anything already enqueued.
func (e *Engine) pump(ctx context.Context, d *device.Device) (int, error) {
	ctx = context.WithoutCancel(ctx)
	total := 0
	for {
		if !d.TryBeginDrain() {
			return total, ErrBusy
		}
		for m := range d.Queue().Drain() {
			e.handle(ctx, d, m)
			total++
			// Unregistered by its own handler; teardown drops the rest.
			if d.Retired() {
				break
			}
		}
		d.EndDrain()

		// An insert that lost the claim race while we were finishing.
		if d.Queue().Len() == 0 {
			return total, nil
		}
	}
}

// handle delivers one popped message to d's driver and releases its payload.
func (e *Engine) handle(ctx context.Context, d *device.Device, m *message.Message) {
	start := time.Now()
	snap := m.Snapshot()
	payload := m.TakePayload()
	defer payload.Release()

	req := device.NewRequest(d.Name(), snap, payload.Bytes(), e.replier(d, m))
	err := e.invoke(ctx, d, req)
	if err != nil {
		e.logger.Warn("handler failed",
			"device", d.Name(),
			"message_id", m.ID,
			"kind", m.Kind.String(),
			"error", err,
		)
	}
	e.completions.handled(d.Name(), m.ID, err)

	e.emit(Event{
		Stage:     StageProcessed,
		MessageID: m.ID,
		ReplyTo:   m.ReplyTo,
		Target:    d.Name(),
		Kind:      m.Kind,
		Priority:  m.Priority,
		Status:    StatusOf(err),
		Error:     errString(err),
		Content:   m.Content,
		Duration:  time.Since(start),
	})
}

func (e *Engine) invoke(ctx context.Context, d *device.Device, req *device.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrHandlerFailed, d.Name(), r)
		}
	}()
	if err := d.Driver().ProcessMessage(ctx, req); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHandlerFailed, d.Name(), err)
	}
	return nil
}

// replier builds the function a driver uses to answer m. Replies go to the
// handling device's own queue at high priority, correlated by ReplyTo.
func (e *Engine) replier(d *device.Device, m *message.Message) device.ReplyFunc {
	return func(kind message.Kind, content string) error {
		r, err := message.New(d.Name(), kind, message.PriorityHigh, content)
		if err != nil {
			return err
		}
		r.ReplyTo = m.ID
		return e.insert(d, r, ModeAsync)
	}
}
