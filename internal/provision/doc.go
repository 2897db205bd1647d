// Package provision manages the softbus topology: which devices are
// registered, with which drivers, and which groups they belong to.
//
// The registries in package device hold the live state. A Provisioner sits
// in front of them and mirrors every change into a device.Store so the same
// topology comes back after a restart:
//
//	p := provision.New(devices, groups, provision.Options{Store: store})
//	if err := p.Restore(ctx); err != nil { ... }   // from the database
//	if err := p.Seed(ctx, cfg); err != nil { ... } // from the config file
//
// Without a store everything stays in memory.
package provision
