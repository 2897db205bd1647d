package provision

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/drivers"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/database"
	"github.com/nerrad567/softbus/migrations"
)

var errStoreDown = errors.New("store down")

// failingStore wraps a real store and fails the named operations.
type failingStore struct {
	device.Store
	mu   sync.Mutex
	fail map[string]bool
}

func (s *failingStore) failOn(ops ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.fail[op] = true
	}
}

func (s *failingStore) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[op] {
		return errStoreDown
	}
	return nil
}

func (s *failingStore) SaveDevice(ctx context.Context, def device.Definition) error {
	if err := s.check("SaveDevice"); err != nil {
		return err
	}
	return s.Store.SaveDevice(ctx, def)
}

func (s *failingStore) DeleteDevice(ctx context.Context, name string) error {
	if err := s.check("DeleteDevice"); err != nil {
		return err
	}
	return s.Store.DeleteDevice(ctx, name)
}

func (s *failingStore) SaveGroup(ctx context.Context, name string) error {
	if err := s.check("SaveGroup"); err != nil {
		return err
	}
	return s.Store.SaveGroup(ctx, name)
}

func (s *failingStore) DeleteGroup(ctx context.Context, name string) error {
	if err := s.check("DeleteGroup"); err != nil {
		return err
	}
	return s.Store.DeleteGroup(ctx, name)
}

func (s *failingStore) AddMember(ctx context.Context, group, name string) error {
	if err := s.check("AddMember"); err != nil {
		return err
	}
	return s.Store.AddMember(ctx, group, name)
}

func (s *failingStore) RemoveMember(ctx context.Context, group, name string) error {
	if err := s.check("RemoveMember"); err != nil {
		return err
	}
	return s.Store.RemoveMember(ctx, group, name)
}

func openStore(t *testing.T) *device.SQLiteStore {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return device.NewSQLiteStore(db.DB)
}

type fixture struct {
	devices *device.Registry
	groups  *device.GroupRegistry
	store   *failingStore
	prov    *Provisioner
}

func newFixture(t *testing.T, store device.Store) *fixture {
	t.Helper()
	f := &fixture{devices: device.NewRegistry(device.Limits{})}
	f.groups = device.NewGroupRegistry(f.devices)
	opts := Options{}
	if store != nil {
		f.store = &failingStore{Store: store, fail: map[string]bool{}}
		opts.Store = f.store
	}
	f.prov = New(f.devices, f.groups, opts)
	t.Cleanup(func() { f.devices.Close(context.Background()) }) //nolint:errcheck // test cleanup
	return f
}

func ledDef(name string) device.Definition {
	return device.Definition{
		Name:    name,
		Type:    device.TypeActuator,
		Driver:  drivers.KindLED,
		Options: map[string]string{"brightness": "10"},
	}
}

func TestRegisterDevice(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	f := newFixture(t, store)

	d, err := f.prov.RegisterDevice(ctx, ledDef("led"))
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if d.Name() != "led" || !f.devices.IsRegistered("led") {
		t.Error("device not registered")
	}

	defs, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(defs) != 1 || defs[0].Driver != drivers.KindLED || defs[0].Options["brightness"] != "10" {
		t.Errorf("stored = %+v", defs)
	}

	def, ok := f.prov.Definition("led")
	if !ok || def.CreatedAt.IsZero() {
		t.Errorf("Definition() = %+v, %v", def, ok)
	}
}

func TestRegisterDevice_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		def  device.Definition
		want error
	}{
		{"unknown driver", device.Definition{Name: "x", Driver: "toaster"}, ErrInvalidDefinition},
		{"bad type", device.Definition{Name: "x", Type: "robot", Driver: drivers.KindEcho}, ErrInvalidDefinition},
		{"bad option", device.Definition{Name: "x", Driver: drivers.KindLED, Options: map[string]string{"brightness": "max"}}, ErrInvalidDefinition},
		{"bad name", device.Definition{Name: "a/b", Driver: drivers.KindEcho}, device.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.prov.RegisterDevice(context.Background(), tt.def); !errors.Is(err, tt.want) {
				t.Errorf("RegisterDevice() error = %v, want %v", err, tt.want)
			}
		})
	}
	if f.devices.Count() != 0 {
		t.Errorf("Count() = %d after failures", f.devices.Count())
	}
}

func TestRegisterDevice_DefaultType(t *testing.T) {
	f := newFixture(t, nil)
	d, err := f.prov.RegisterDevice(context.Background(), device.Definition{Name: "inbox", Driver: drivers.KindEcho})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if d.Type() != device.TypeOther {
		t.Errorf("Type() = %v, want other", d.Type())
	}
}

func TestRegisterDevice_StoreFailureRollsBack(t *testing.T) {
	f := newFixture(t, openStore(t))
	f.store.failOn("SaveDevice")

	if _, err := f.prov.RegisterDevice(context.Background(), ledDef("led")); !errors.Is(err, errStoreDown) {
		t.Fatalf("RegisterDevice() error = %v, want store error", err)
	}
	if f.devices.IsRegistered("led") {
		t.Error("registration survived store failure")
	}
	if _, ok := f.prov.Definition("led"); ok {
		t.Error("definition kept after rollback")
	}
}

func TestUnregisterDevice(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	f := newFixture(t, store)
	if _, err := f.prov.RegisterDevice(ctx, ledDef("led")); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	if err := f.prov.UnregisterDevice(ctx, "led"); err != nil {
		t.Fatalf("UnregisterDevice() error = %v", err)
	}
	if f.devices.IsRegistered("led") {
		t.Error("device still registered")
	}
	if defs, _ := store.ListDevices(ctx); len(defs) != 0 {
		t.Errorf("stored = %+v, want none", defs)
	}
	if err := f.prov.UnregisterDevice(ctx, "led"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("second UnregisterDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestUnregisterDevice_NotStored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, openStore(t))
	// Registered directly, as serve does for the multicast inbox.
	drv, _ := drivers.New(drivers.KindEcho, nil)
	if _, err := f.devices.Register(ctx, "multicast", device.TypeOther, drv); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.prov.UnregisterDevice(ctx, "multicast"); err != nil {
		t.Errorf("UnregisterDevice() error = %v", err)
	}
}

func TestUnregisterDevice_StoreFailureRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, openStore(t))
	if _, err := f.prov.RegisterDevice(ctx, ledDef("led")); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	f.store.failOn("DeleteDevice")

	if err := f.prov.UnregisterDevice(ctx, "led"); !errors.Is(err, errStoreDown) {
		t.Fatalf("UnregisterDevice() error = %v, want store error", err)
	}
	if !f.devices.IsRegistered("led") {
		t.Error("device not restored after store failure")
	}
	if _, ok := f.prov.Definition("led"); !ok {
		t.Error("definition lost after rollback")
	}
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	f := newFixture(t, store)
	for _, n := range []string{"a", "b"} {
		if _, err := f.prov.RegisterDevice(ctx, ledDef(n)); err != nil {
			t.Fatalf("RegisterDevice(%s) error = %v", n, err)
		}
	}

	if err := f.prov.CreateGroup(ctx, "g"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	for _, n := range []string{"a", "b", "a"} {
		if err := f.prov.AddMember(ctx, "g", n); err != nil {
			t.Fatalf("AddMember(%s) error = %v", n, err)
		}
	}
	if err := f.prov.RemoveMember(ctx, "g", "a"); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}

	stored, err := store.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(stored) != 1 || !slices.Equal(stored[0].Members, []string{"b"}) {
		t.Errorf("stored groups = %+v", stored)
	}
	if members, _ := f.groups.Members("g"); !slices.Equal(members, []string{"b"}) {
		t.Errorf("Members() = %v", members)
	}

	if err := f.prov.DeleteGroup(ctx, "g"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if f.groups.Exists("g") {
		t.Error("group survived DeleteGroup")
	}
	if stored, _ := store.ListGroups(ctx); len(stored) != 0 {
		t.Errorf("stored groups = %+v, want none", stored)
	}
}

func TestGroups_StoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, openStore(t))
	if _, err := f.prov.RegisterDevice(ctx, ledDef("a")); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	f.store.failOn("SaveGroup")
	if err := f.prov.CreateGroup(ctx, "g1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if f.groups.Exists("g1") {
		t.Error("group created despite store failure")
	}

	f.store.fail = map[string]bool{}
	if err := f.prov.CreateGroup(ctx, "g2"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	f.store.failOn("AddMember")
	if err := f.prov.AddMember(ctx, "g2", "a"); !errors.Is(err, errStoreDown) {
		t.Fatalf("AddMember() error = %v", err)
	}
	if members, _ := f.groups.Members("g2"); len(members) != 0 {
		t.Errorf("members after failed add = %v", members)
	}

	f.store.fail = map[string]bool{}
	if err := f.prov.AddMember(ctx, "g2", "a"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	f.store.failOn("RemoveMember", "DeleteGroup")
	if err := f.prov.RemoveMember(ctx, "g2", "a"); !errors.Is(err, errStoreDown) {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if err := f.prov.DeleteGroup(ctx, "g2"); !errors.Is(err, errStoreDown) {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if members, _ := f.groups.Members("g2"); !slices.Equal(members, []string{"a"}) {
		t.Errorf("members after failed removals = %v, want [a]", members)
	}
}

func TestSeedAndRestore(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{Name: "temperature_sensor", Type: "sensor", Driver: drivers.KindTemperature},
			{Name: "led_controller", Type: "actuator", Driver: drivers.KindLED, Options: map[string]string{"brightness": "30"}},
			{Name: "broken", Type: "sensor", Driver: "toaster"},
		},
		Groups: []config.GroupConfig{
			{Name: "room1_devices", Members: []string{"temperature_sensor", "led_controller", "ghost"}},
		},
	}

	first := newFixture(t, store)
	err := first.prov.Seed(ctx, cfg)
	if !errors.Is(err, ErrInvalidDefinition) || !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Seed() error = %v, want invalid driver and missing member", err)
	}
	if first.devices.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", first.devices.Count())
	}

	// Seeding again changes nothing.
	_ = first.prov.Seed(ctx, cfg) //nolint:errcheck // same failures as above
	if first.devices.Count() != 2 {
		t.Errorf("Count() after reseed = %d", first.devices.Count())
	}

	// A fresh node over the same store comes back with the same topology.
	second := newFixture(t, store)
	if err := second.prov.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !slices.Equal(second.devices.Names(), []string{"temperature_sensor", "led_controller"}) {
		t.Errorf("restored devices = %v", second.devices.Names())
	}
	members, err := second.groups.Members("room1_devices")
	if err != nil || !slices.Equal(members, []string{"temperature_sensor", "led_controller"}) {
		t.Errorf("restored members = %v, %v", members, err)
	}
	led, err := second.devices.Find("led_controller")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got := led.Driver().(*drivers.LED).Brightness(); got != 30 {
		t.Errorf("restored brightness = %d, want 30", got)
	}

	// Restore does not write; seeding on top of a restore is a no-op.
	if err := second.prov.Seed(ctx, &config.Config{Devices: cfg.Devices[:2], Groups: []config.GroupConfig{{Name: "room1_devices", Members: []string{"led_controller"}}}}); err != nil {
		t.Errorf("Seed() after Restore error = %v", err)
	}
}

func TestRestore_WithoutStore(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.prov.Restore(context.Background()); err != nil {
		t.Errorf("Restore() error = %v", err)
	}
	if f.prov.Persistent() {
		t.Error("Persistent() = true without a store")
	}
}
