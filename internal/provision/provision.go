package provision

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/drivers"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
)

// ErrInvalidDefinition is returned when a device definition names an
// unknown driver, an invalid type or unparseable options.
var ErrInvalidDefinition = errors.New("provision: invalid definition")

// Logger defines the logging interface used by the Provisioner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DriverFactory builds a driver from a definition's driver name and options.
type DriverFactory func(kind string, options map[string]string) (device.Driver, error)

// Options configures a Provisioner.
type Options struct {
	// Store persists definitions. Nil keeps everything in memory.
	Store device.Store

	// Drivers resolves driver names. Nil means drivers.New.
	Drivers DriverFactory

	Logger Logger
}

// Provisioner changes the device and group topology and keeps the
// definition store in step with the registries.
//
// Every operation updates the registry first and the store second. When the
// store write fails the registry change is undone, so a node never runs a
// topology it could not restore after a restart.
//
// Thread Safety:
//   - All methods are safe for concurrent use; operations are serialised.
type Provisioner struct {
	devices *device.Registry
	groups  *device.GroupRegistry
	store   device.Store
	drivers DriverFactory
	logger  Logger

	mu   sync.Mutex
	defs map[string]device.Definition
}

// New creates a Provisioner over the given registries.
func New(devices *device.Registry, groups *device.GroupRegistry, opts Options) *Provisioner {
	if opts.Drivers == nil {
		opts.Drivers = drivers.New
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Provisioner{
		devices: devices,
		groups:  groups,
		store:   opts.Store,
		drivers: opts.Drivers,
		logger:  opts.Logger,
		defs:    make(map[string]device.Definition),
	}
}

// Persistent reports whether definitions are written to a store.
func (p *Provisioner) Persistent() bool { return p.store != nil }

// RegisterDevice builds the definition's driver, registers the device and
// saves the definition.
//
// An empty Type defaults to device.TypeOther.
//
// Returns:
//   - *device.Device: The registered device
//   - error: ErrInvalidDefinition, any device.Registry.Register error, or a
//     store error (the registration is rolled back)
func (p *Provisioner) RegisterDevice(ctx context.Context, def device.Definition) (*device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerLocked(ctx, def, true)
}

func (p *Provisioner) registerLocked(ctx context.Context, def device.Definition, persist bool) (*device.Device, error) {
	if def.Type == "" {
		def.Type = device.TypeOther
	}
	if err := device.ValidateType(def.Type); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	drv, err := p.drivers(def.Driver, def.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
	}

	d, err := p.devices.Register(ctx, def.Name, def.Type, drv)
	if err != nil {
		return nil, err
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.Options = maps.Clone(def.Options)

	if persist && p.store != nil {
		if err := p.store.SaveDevice(ctx, def); err != nil {
			if rbErr := p.devices.Unregister(ctx, def.Name); rbErr != nil {
				p.logger.Error("rolling back device registration", "device", def.Name, "error", rbErr)
			}
			return nil, fmt.Errorf("saving device %s: %w", def.Name, err)
		}
	}

	p.defs[def.Name] = def
	p.logger.Info("device provisioned", "device", def.Name, "type", string(def.Type), "driver", def.Driver)
	return d, nil
}

// UnregisterDevice unregisters the device and deletes its definition.
//
// If the store delete fails the device is registered again from its
// definition. Devices registered outside the Provisioner have no stored
// definition; a missing row is not an error.
func (p *Provisioner) UnregisterDevice(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	def, known := p.defs[name]
	if err := p.devices.Unregister(ctx, name); err != nil {
		return err
	}
	delete(p.defs, name)

	if p.store == nil {
		return nil
	}
	err := p.store.DeleteDevice(ctx, name)
	if err == nil || errors.Is(err, device.ErrDeviceNotFound) {
		return nil
	}

	if known {
		if _, rbErr := p.registerLocked(ctx, def, false); rbErr != nil {
			p.logger.Error("rolling back device removal", "device", name, "error", rbErr)
		}
	}
	return fmt.Errorf("deleting device %s: %w", name, err)
}

// CreateGroup creates an empty group and saves it.
func (p *Provisioner) CreateGroup(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.groups.Create(name); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.SaveGroup(ctx, name); err != nil {
			p.rollback("group creation", name, p.groups.Delete(name))
			return fmt.Errorf("saving group %s: %w", name, err)
		}
	}
	p.logger.Info("group created", "group", name)
	return nil
}

// DeleteGroup deletes a group and its stored membership. Member devices are
// not affected.
func (p *Provisioner) DeleteGroup(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, err := p.groups.Members(name)
	if err != nil {
		return err
	}
	if err := p.groups.Delete(name); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.DeleteGroup(ctx, name); err != nil && !errors.Is(err, device.ErrGroupNotFound) {
			p.restoreGroup(name, members)
			return fmt.Errorf("deleting group %s: %w", name, err)
		}
	}
	p.logger.Info("group deleted", "group", name)
	return nil
}

// AddMember adds a device to a group. Adding an existing member is a no-op.
func (p *Provisioner) AddMember(ctx context.Context, group, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, err := p.groups.Members(group)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m == name {
			return nil
		}
	}

	if err := p.groups.AddMember(group, name); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.AddMember(ctx, group, name); err != nil {
			p.rollback("member add", group, p.groups.RemoveMember(group, name))
			return fmt.Errorf("saving member %s of %s: %w", name, group, err)
		}
	}
	return nil
}

// RemoveMember removes a device from a group.
func (p *Provisioner) RemoveMember(ctx context.Context, group, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.groups.RemoveMember(group, name); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.RemoveMember(ctx, group, name); err != nil && !errors.Is(err, device.ErrNotMember) {
			p.rollback("member removal", group, p.groups.AddMember(group, name))
			return fmt.Errorf("deleting member %s of %s: %w", name, group, err)
		}
	}
	return nil
}

// Definition returns the definition a device was provisioned from.
func (p *Provisioner) Definition(name string) (device.Definition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	def, ok := p.defs[name]
	return def, ok
}

// Seed provisions the devices and groups declared in cfg. Devices and
// groups that already exist (for example restored from the store) are left
// alone; declared members are added if missing. Every failure is reported.
func (p *Provisioner) Seed(ctx context.Context, cfg *config.Config) error {
	var errs []error

	for _, dc := range cfg.Devices {
		if p.devices.IsRegistered(dc.Name) {
			continue
		}
		typ, err := device.ParseType(dc.Type)
		if err != nil && dc.Type != "" {
			errs = append(errs, fmt.Errorf("device %s: %w: %w", dc.Name, ErrInvalidDefinition, err))
			continue
		}
		_, err = p.RegisterDevice(ctx, device.Definition{
			Name:    dc.Name,
			Type:    typ,
			Driver:  dc.Driver,
			Options: dc.Options,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", dc.Name, err))
		}
	}

	for _, gc := range cfg.Groups {
		if !p.groups.Exists(gc.Name) {
			if err := p.CreateGroup(ctx, gc.Name); err != nil {
				errs = append(errs, fmt.Errorf("group %s: %w", gc.Name, err))
				continue
			}
		}
		for _, m := range gc.Members {
			if err := p.AddMember(ctx, gc.Name, m); err != nil {
				errs = append(errs, fmt.Errorf("group %s member %s: %w", gc.Name, m, err))
			}
		}
	}

	return errors.Join(errs...)
}

// Restore registers every stored device and recreates every stored group.
// Nothing is written back to the store. A definition that can no longer be
// built (for example a driver that was removed) is reported and skipped.
func (p *Provisioner) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	defs, err := p.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	groups, err := p.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}

	var errs []error
	for _, def := range defs {
		if _, err := p.registerLocked(ctx, def, false); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", def.Name, err))
		}
	}
	for _, g := range groups {
		if err := p.groups.Create(g.Name); err != nil && !errors.Is(err, device.ErrGroupExists) {
			errs = append(errs, fmt.Errorf("group %s: %w", g.Name, err))
			continue
		}
		for _, m := range g.Members {
			if err := p.groups.AddMember(g.Name, m); err != nil {
				errs = append(errs, fmt.Errorf("group %s member %s: %w", g.Name, m, err))
			}
		}
	}

	p.logger.Info("topology restored", "devices", len(defs), "groups", len(groups))
	return errors.Join(errs...)
}

func (p *Provisioner) restoreGroup(name string, members []string) {
	err := p.groups.Create(name)
	for _, m := range members {
		if err != nil {
			break
		}
		err = p.groups.AddMember(name, m)
	}
	p.rollback("group deletion", name, err)
}

func (p *Provisioner) rollback(what, name string, err error) {
	if err != nil {
		p.logger.Error("rolling back "+what, "name", name, "error", err)
	}
}
