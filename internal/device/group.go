package device

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// GroupInfo is a point-in-time view of a group.
type GroupInfo struct {
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type group struct {
	name      string
	members   []string
	createdAt time.Time
}

// GroupRegistry holds named, bounded sets of device names used for fan-out.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - The group lock is always taken before the device registry lock. The
//     device registry follows the same order when it purges an unregistered
//     device from every group.
type GroupRegistry struct {
	mu      sync.Mutex
	devices *Registry
	groups  []*group
	index   map[string]int
	logger  Logger
}

// NewGroupRegistry creates a group registry bound to devices. Unregistering a
// device removes it from every group. Call this before the device registry is
// shared between goroutines.
func NewGroupRegistry(devices *Registry) *GroupRegistry {
	g := &GroupRegistry{
		devices: devices,
		index:   make(map[string]int),
		logger:  noopLogger{},
	}
	devices.groups = g
	return g
}

// SetLogger sets the logger for the group registry.
func (g *GroupRegistry) SetLogger(logger Logger) {
	g.logger = logger
}

// Create adds an empty group.
//
// Returns:
//   - error: ErrInvalidName, ErrGroupExists or ErrGroupCapacity
func (g *GroupRegistry) Create(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	if limit := g.devices.limits.MaxGroups; len(g.groups) >= limit {
		return fmt.Errorf("%w: limit %d", ErrGroupCapacity, limit)
	}

	g.index[name] = len(g.groups)
	g.groups = append(g.groups, &group{name: name, createdAt: time.Now().UTC()})
	g.logger.Info("group created", "group", name)
	return nil
}

// Delete removes a group. Member devices are unaffected.
func (g *GroupRegistry) Delete(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}

	copy(g.groups[i:], g.groups[i+1:])
	g.groups[len(g.groups)-1] = nil
	g.groups = g.groups[:len(g.groups)-1]
	delete(g.index, name)
	for j := i; j < len(g.groups); j++ {
		g.index[g.groups[j].name] = j
	}

	g.logger.Info("group deleted", "group", name)
	return nil
}

// AddMember appends a registered device to a group. Adding an existing
// member is a no-op.
//
// Returns:
//   - error: ErrGroupNotFound, ErrDeviceNotFound or ErrGroupFull
func (g *GroupRegistry) AddMember(groupName, deviceName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, err := g.lookupLocked(groupName)
	if err != nil {
		return err
	}
	if !g.devices.IsRegistered(deviceName) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceName)
	}
	if slices.Contains(grp.members, deviceName) {
		return nil
	}
	if limit := g.devices.limits.MaxGroupMembers; len(grp.members) >= limit {
		return fmt.Errorf("%w: %s has %d members", ErrGroupFull, groupName, limit)
	}

	grp.members = append(grp.members, deviceName)
	g.logger.Debug("group member added", "group", groupName, "device", deviceName)
	return nil
}

// RemoveMember removes a device from a group.
//
// Returns:
//   - error: ErrGroupNotFound or ErrNotMember
func (g *GroupRegistry) RemoveMember(groupName, deviceName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, err := g.lookupLocked(groupName)
	if err != nil {
		return err
	}
	i := slices.Index(grp.members, deviceName)
	if i < 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotMember, deviceName, groupName)
	}

	grp.members = slices.Delete(grp.members, i, i+1)
	g.logger.Debug("group member removed", "group", groupName, "device", deviceName)
	return nil
}

// Members returns a snapshot of a group's members in insertion order.
func (g *GroupRegistry) Members(name string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, err := g.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	return cloneMembers(grp.members), nil
}

// Exists reports whether a group exists.
func (g *GroupRegistry) Exists(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.index[name]
	return ok
}

// List returns a view of every group in creation order.
func (g *GroupRegistry) List() []GroupInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]GroupInfo, len(g.groups))
	for i, grp := range g.groups {
		out[i] = GroupInfo{
			Name:      grp.name,
			Members:   cloneMembers(grp.members),
			CreatedAt: grp.createdAt,
		}
	}
	return out
}

// Count returns the number of groups.
func (g *GroupRegistry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

func (g *GroupRegistry) lookupLocked(name string) (*group, error) {
	i, ok := g.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return g.groups[i], nil
}

// purgeLocked drops a device from every group. Caller holds g.mu.
func (g *GroupRegistry) purgeLocked(deviceName string) {
	for _, grp := range g.groups {
		if i := slices.Index(grp.members, deviceName); i >= 0 {
			grp.members = slices.Delete(grp.members, i, i+1)
			g.logger.Debug("group member purged", "group", grp.name, "device", deviceName)
		}
	}
}

// cloneMembers copies a member list, never returning nil.
func cloneMembers(members []string) []string {
	return append(make([]string, 0, len(members)), members...)
}
