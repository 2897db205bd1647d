package device

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/softbus/internal/message"
)

// Device is a registered endpoint: a driver plus its own priority queue.
//
// Records are created by Registry.Register and never copied. Callers hold a
// *Device obtained from Find for the duration of an operation; the record
// stays usable after Unregister but its queue rejects inserts.
type Device struct {
	name         string
	typ          Type
	driver       Driver
	queue        *message.Queue
	registeredAt time.Time

	// drainMu gives one goroutine exclusive use of the queue's consumer side.
	drainMu sync.Mutex

	// stateMu guards draining, retired and teardown. A device unregistered
	// mid-drain hands its teardown to the pass holding the claim.
	stateMu  sync.Mutex
	draining bool
	retired  bool
	teardown func()

	// syncSem serialises synchronous sends so at most one waiter is armed.
	syncSem *semaphore.Weighted
}

func newDevice(name string, typ Type, driver Driver, limits Limits) *Device {
	return &Device{
		name:   name,
		typ:    typ,
		driver: driver,
		queue: message.NewQueue(message.QueueOptions{
			MaxLen:   limits.QueueLength,
			MaxBytes: limits.QueueBytes,
		}),
		registeredAt: time.Now().UTC(),
		syncSem:      semaphore.NewWeighted(1),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Type returns the device type.
func (d *Device) Type() Type { return d.typ }

// Driver returns the device's driver.
func (d *Device) Driver() Driver { return d.driver }

// Queue returns the device's message queue.
func (d *Device) Queue() *message.Queue { return d.queue }

// TryBeginDrain claims the consumer side of the queue. It reports false if
// another drain pass holds it or the device has been unregistered.
func (d *Device) TryBeginDrain() bool {
	if !d.drainMu.TryLock() {
		return false
	}
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.retired {
		d.drainMu.Unlock()
		return false
	}
	d.draining = true
	return true
}

// EndDrain releases a claim taken by TryBeginDrain. If the device was
// unregistered during the pass, its teardown runs here before the claim is
// released.
func (d *Device) EndDrain() {
	d.stateMu.Lock()
	fn := d.teardown
	d.teardown = nil
	d.draining = false
	d.stateMu.Unlock()

	if fn != nil {
		fn()
	}
	d.drainMu.Unlock()
}

// Retired reports whether the device has been unregistered.
func (d *Device) Retired() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.retired
}

// retire marks the device as removed and arranges for fn to run once no
// drain pass holds the queue. It reports true if fn was deferred to the
// running pass, in which case the caller must not run it.
func (d *Device) retire(fn func()) bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.retired = true
	if d.draining {
		d.teardown = fn
		return true
	}
	return false
}

// AcquireSync blocks until the caller may arm a synchronous wait on this
// device, or ctx is done.
func (d *Device) AcquireSync(ctx context.Context) error {
	return d.syncSem.Acquire(ctx, 1)
}

// ReleaseSync releases a slot taken by AcquireSync.
func (d *Device) ReleaseSync() {
	d.syncSem.Release(1)
}

// Info returns a point-in-time view of the device.
func (d *Device) Info() Info {
	return Info{
		Name:         d.name,
		Type:         d.typ,
		QueueLength:  d.queue.Len(),
		QueueBytes:   d.queue.Bytes(),
		RegisteredAt: d.registeredAt,
	}
}
