// Package device provides the Device Registry and Group Registry for softbus.
//
// A device is a named endpoint: a Driver that handles messages plus its own
// priority queue (see package message). A group is a named, bounded list of
// device names used for fan-out delivery.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        device package                         │
//	│                                                               │
//	│  ┌──────────────────┐   purge on     ┌──────────────────┐    │
//	│  │  GroupRegistry   │◀──unregister───│     Registry     │    │
//	│  │   (group.go)     │                │  (registry.go)   │    │
//	│  │ • members        │──validates────▶│ • Device records │    │
//	│  │ • bounded sizes  │   membership   │ • queue per name │    │
//	│  └──────────────────┘                └──────────────────┘    │
//	│                                              │                │
//	│                         ┌────────────────────┘                │
//	│                         ▼                                     │
//	│                ┌──────────────────┐                           │
//	│                │  Store (SQLite)  │  definitions only         │
//	│                │   (store.go)     │                           │
//	│                └──────────────────┘                           │
//	└──────────────────────────────────────────────────────────────┘
//
// # Lifecycle
//
// Register reserves the name, runs the driver's optional Init and Start, and
// only then makes the device visible. A failure at either step leaves the
// registry unchanged. Unregister removes the record and its group
// memberships atomically, then runs Stop and Deinit and releases every queued
// payload. When a drain pass is delivering to the device at that moment, the
// teardown runs as the pass ends instead.
//
// # Lock ordering
//
// The group lock is always acquired before the device lock. Driver callbacks
// never run under either lock.
//
// # Usage
//
//	devices := device.NewRegistry(device.DefaultLimits())
//	groups := device.NewGroupRegistry(devices)
//
//	led, err := devices.Register(ctx, "led", device.TypeActuator, driver)
//	if err != nil {
//	    return err
//	}
//	_ = groups.Create("room1")
//	_ = groups.AddMember("room1", led.Name())
package device
