package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// UnregisterHook is called after a device has been removed from the registry
// and from every group, before its driver is torn down.
type UnregisterHook func(name string)

// Registry holds the set of registered devices.
//
// Devices are kept in registration order. Removal compacts the order so
// iteration never sees gaps.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Driver Init/Start/Stop/Deinit run outside the registry lock.
//   - When a GroupRegistry is attached, structural changes take the group
//     lock before the device lock.
type Registry struct {
	mu       sync.RWMutex
	devices  []*Device
	index    map[string]int
	reserved map[string]struct{} // names whose Init/Start is in progress
	limits   Limits
	groups   *GroupRegistry
	hooks    []UnregisterHook
	logger   Logger
}

// NewRegistry creates an empty registry. Zero fields in limits take their
// defaults.
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		index:    make(map[string]int),
		reserved: make(map[string]struct{}),
		limits:   limits.withDefaults(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Limits returns the effective limits.
func (r *Registry) Limits() Limits {
	return r.limits
}

// OnUnregister adds a hook run for every successful Unregister.
func (r *Registry) OnUnregister(hook UnregisterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register validates and installs a device.
//
// The driver's Init and Start run (in that order, if implemented) before the
// device becomes visible. If either fails the registration is rolled back and
// nothing remains in the registry.
//
// Parameters:
//   - ctx: Context passed to Init and Start
//   - name: Unique device name (see ValidateName)
//   - typ: Device type
//   - driver: Message handler
//
// Returns:
//   - *Device: The installed record
//   - error: ErrInvalidName, ErrInvalidType, ErrInvalidDriver, ErrDeviceExists,
//     ErrCapacityExceeded, ErrInitFailed or ErrStartFailed
func (r *Registry) Register(ctx context.Context, name string, typ Type, driver Driver) (*Device, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateType(typ); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrInvalidDriver
	}

	if err := r.reserve(name); err != nil {
		return nil, err
	}

	if init, ok := driver.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			r.release(name)
			return nil, fmt.Errorf("%w: %s: %w", ErrInitFailed, name, err)
		}
	}
	if start, ok := driver.(Starter); ok {
		if err := start.Start(ctx); err != nil {
			if deinit, ok := driver.(Deinitializer); ok {
				if derr := deinit.Deinit(ctx); derr != nil {
					r.logger.Warn("deinit after failed start", "device", name, "error", derr)
				}
			}
			r.release(name)
			return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, name, err)
		}
	}

	d := newDevice(name, typ, driver, r.limits)

	r.mu.Lock()
	delete(r.reserved, name)
	r.index[name] = len(r.devices)
	r.devices = append(r.devices, d)
	count := len(r.devices)
	r.mu.Unlock()

	r.logger.Info("device registered", "device", name, "type", string(typ), "count", count)
	return d, nil
}

// reserve claims a name so Init/Start can run without holding the lock.
// Reservations count toward uniqueness and capacity.
func (r *Registry) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, name)
	}
	if _, ok := r.reserved[name]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, name)
	}
	if len(r.devices)+len(r.reserved) >= r.limits.MaxDevices {
		return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.limits.MaxDevices)
	}
	r.reserved[name] = struct{}{}
	return nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	delete(r.reserved, name)
	r.mu.Unlock()
}

// Unregister removes a device.
//
// The record is removed from the registry and from every group in a single
// critical section, then hooks run. The driver's Stop and Deinit run next,
// and finally the queue is closed, releasing every queued payload. Stop and
// Deinit failures are logged; they never block removal.
//
// If a drain pass is delivering to the device, teardown is left to that
// pass and runs when it ends, so a driver may unregister its own device from
// ProcessMessage. Unregister then returns without waiting.
//
// Returns:
//   - error: ErrDeviceNotFound if no device has that name
func (r *Registry) Unregister(ctx context.Context, name string) error {
	d, hooks, err := r.remove(name)
	if err != nil {
		return err
	}

	for _, hook := range hooks {
		hook(name)
	}

	ctx = context.WithoutCancel(ctx)
	finish := func() { r.teardown(ctx, d) }
	if d.retire(finish) {
		r.logger.Debug("device teardown deferred to drain pass", "device", name)
		return nil
	}

	// A pass that claimed the queue before retire observed it backs out
	// without delivering, so this wait is short.
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	finish()
	return nil
}

// teardown stops the driver and closes the queue of a removed device. The
// caller holds the drain claim.
func (r *Registry) teardown(ctx context.Context, d *Device) {
	name := d.name
	if stop, ok := d.driver.(Stopper); ok {
		if err := stop.Stop(ctx); err != nil {
			r.logger.Warn("device stop failed", "device", name, "error", err)
		}
	}
	if deinit, ok := d.driver.(Deinitializer); ok {
		if err := deinit.Deinit(ctx); err != nil {
			r.logger.Warn("device deinit failed", "device", name, "error", err)
		}
	}

	dropped := d.queue.Close()
	r.logger.Info("device unregistered", "device", name, "dropped", dropped)
}

// remove detaches a record from the registry and from all groups.
func (r *Registry) remove(name string) (*Device, []UnregisterHook, error) {
	if r.groups != nil {
		r.groups.mu.Lock()
		defer r.groups.mu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	d := r.devices[i]

	copy(r.devices[i:], r.devices[i+1:])
	r.devices[len(r.devices)-1] = nil
	r.devices = r.devices[:len(r.devices)-1]
	delete(r.index, name)
	for j := i; j < len(r.devices); j++ {
		r.index[r.devices[j].name] = j
	}

	if r.groups != nil {
		r.groups.purgeLocked(name)
	}

	hooks := make([]UnregisterHook, len(r.hooks))
	copy(hooks, r.hooks)
	return d, hooks, nil
}

// Find returns the device registered under name.
func (r *Registry) Find(name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return r.devices[i], nil
}

// IsRegistered reports whether a device named name exists.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// List returns the registered devices in registration order.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Names returns registered device names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.name
	}
	return out
}

// Infos returns a view of every registered device.
func (r *Registry) Infos() []Info {
	devices := r.List()
	out := make([]Info, len(devices))
	for i, d := range devices {
		out[i] = d.Info()
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Close unregisters every device, most recently registered first.
func (r *Registry) Close(ctx context.Context) error {
	names := r.Names()
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Unregister(ctx, names[i]); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
