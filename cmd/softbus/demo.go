package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/drivers"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/logging"
	"github.com/nerrad567/softbus/internal/message"
	"github.com/nerrad567/softbus/internal/provision"
)

// Demo topology.
const (
	demoSensor = "temperature_sensor"
	demoLED    = "led_controller"
	demoGroup  = "room1_devices"
	demoProbe  = "priority_probe"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an in-memory walkthrough of the bus",
		Long: `Run an in-memory walkthrough of the bus.

The demo registers a temperature sensor and an LED controller, groups them,
queries both synchronously, sends a group status check, and finally posts
four messages of different priority to show drain ordering. Nothing is
persisted and no network transport is used.

The exit code is 0 when the last operation succeeded.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "warn"
			if rootOpts.Verbose {
				level = "debug"
			}
			log := logging.NewWithWriter(config.LoggingConfig{Level: level, Format: "text"}, version, cmd.ErrOrStderr())
			return runDemo(cmd.Context(), cmd.OutOrStdout(), log)
		},
	}
}

// demo holds the in-memory bus used by runDemo.
type demo struct {
	out     io.Writer
	devices *device.Registry
	groups  *device.GroupRegistry
	engine  *bus.Engine
	prov    *provision.Provisioner
}

// runDemo walks through the bus operations and returns an ExitError unless
// the final drain pass succeeds.
func runDemo(ctx context.Context, out io.Writer, log *logging.Logger) error {
	devices := device.NewRegistry(device.DefaultLimits())
	devices.SetLogger(log)
	groups := device.NewGroupRegistry(devices)
	groups.SetLogger(log)
	d := &demo{
		out:     out,
		devices: devices,
		groups:  groups,
		engine:  bus.NewEngine(devices, groups, bus.Options{Logger: log}),
		prov:    provision.New(devices, groups, provision.Options{Logger: log}),
	}
	defer func() {
		fmt.Fprintln(out, "\nCleaning up...")
		if err := d.engine.Close(); err != nil {
			log.Error("error closing engine", "error", err)
		}
		if err := devices.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("error closing device registry", "error", err)
		}
	}()

	if err := d.setup(ctx); err != nil {
		return WrapExitError("demo setup failed", err)
	}

	fmt.Fprintln(out, "\nTesting message sending...")
	d.unicast(ctx, "1. Querying temperature sensor", demoSensor, message.PriorityNormal, "get_temperature")
	d.unicast(ctx, "2. Setting LED brightness", demoLED, message.PriorityHigh, "set_brightness:75")
	d.group(ctx)

	fmt.Fprintln(out, "\nProcessing final messages:")
	d.drain(ctx, demoSensor)
	d.drain(ctx, demoLED)

	err := d.priorityPass(ctx)
	if status := bus.StatusOf(err); !status.OK() {
		return WrapExitError("priority pass failed", err)
	}
	return nil
}

func (d *demo) setup(ctx context.Context) error {
	fmt.Fprintln(d.out, "Registering devices...")
	defs := []device.Definition{
		{Name: demoSensor, Type: device.TypeSensor, Driver: drivers.KindTemperature},
		{Name: demoLED, Type: device.TypeActuator, Driver: drivers.KindLED},
	}
	for _, def := range defs {
		if _, err := d.prov.RegisterDevice(ctx, def); err != nil {
			return fmt.Errorf("registering %s: %w", def.Name, err)
		}
		fmt.Fprintf(d.out, "  %s (%s, driver %s)\n", def.Name, def.Type, def.Driver)
	}

	fmt.Fprintln(d.out, "\nCreating device group...")
	if err := d.prov.CreateGroup(ctx, demoGroup); err != nil {
		return fmt.Errorf("creating group: %w", err)
	}
	for _, def := range defs {
		if err := d.prov.AddMember(ctx, demoGroup, def.Name); err != nil {
			return fmt.Errorf("adding %s to group: %w", def.Name, err)
		}
	}
	members, _ := d.groups.Members(demoGroup)
	fmt.Fprintf(d.out, "  %s: %v\n", demoGroup, members)
	return nil
}

func (d *demo) unicast(ctx context.Context, title, target string, p message.Priority, content string) {
	fmt.Fprintf(d.out, "\n%s:\n", title)
	reply, err := d.engine.Send(ctx, bus.Envelope{
		Target:   target,
		Kind:     message.KindCommand,
		Priority: p,
		Content:  content,
		Mode:     bus.ModeSync,
	})
	if err != nil {
		fmt.Fprintf(d.out, "  send failed: %v (status %s)\n", err, bus.StatusOf(err))
		return
	}
	fmt.Fprintf(d.out, "  %s -> %s\n", content, reply.Content)
}

func (d *demo) group(ctx context.Context) {
	fmt.Fprintln(d.out, "\n3. Sending group message:")
	err := d.engine.SendGroup(ctx, demoGroup, bus.Envelope{
		Kind:     message.KindStatus,
		Priority: message.PriorityNormal,
		Content:  "status_check",
		Mode:     bus.ModeSync,
	}, func(r bus.MemberResult) {
		if r.Err != nil {
			fmt.Fprintf(d.out, "  %s: %s (%v)\n", r.Device, r.Status, r.Err)
			return
		}
		fmt.Fprintf(d.out, "  %s: %s -> %s\n", r.Device, r.Status, r.Reply.Content)
	})
	if err != nil {
		fmt.Fprintf(d.out, "  group send failed: %v\n", err)
	}
}

func (d *demo) drain(ctx context.Context, name string) {
	n, err := d.engine.ProcessMessages(ctx, name)
	if errors.Is(err, bus.ErrBusy) {
		// A pass started by an earlier sync send is still running.
		fmt.Fprintf(d.out, "  %s: drain already in progress\n", name)
		return
	}
	if err != nil {
		fmt.Fprintf(d.out, "  %s: drain failed: %v\n", name, err)
		return
	}
	fmt.Fprintf(d.out, "  processed %d messages for %s\n", n, name)
}

// priorityPass posts four messages without draining, then drains them in
// one pass. The probe prints each message as it is handled.
func (d *demo) priorityPass(ctx context.Context) error {
	fmt.Fprintln(d.out, "\n4. Priority ordering:")

	var mu sync.Mutex
	probe := device.HandlerFunc(func(_ context.Context, req *device.Request) error {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(d.out, "  handled %-6s %s\n", req.Message.Priority, req.Payload)
		return nil
	})
	if _, err := d.devices.Register(ctx, demoProbe, device.TypeOther, probe); err != nil {
		return fmt.Errorf("registering probe: %w", err)
	}

	posts := []struct {
		priority message.Priority
		content  string
	}{
		{message.PriorityLow, "maintenance"},
		{message.PriorityNormal, "report"},
		{message.PriorityUrgent, "emergency"},
		{message.PriorityHigh, "alert"},
	}
	for _, p := range posts {
		if _, err := d.engine.Post(ctx, bus.Envelope{
			Target:   demoProbe,
			Kind:     message.KindData,
			Priority: p.priority,
			Content:  p.content,
		}); err != nil {
			return fmt.Errorf("posting %s: %w", p.content, err)
		}
		fmt.Fprintf(d.out, "  posted  %-6s %s\n", p.priority, p.content)
	}

	n, err := d.engine.ProcessMessages(ctx, demoProbe)
	if err != nil {
		return fmt.Errorf("draining probe: %w", err)
	}
	fmt.Fprintf(d.out, "  processed %d messages for %s\n", n, demoProbe)
	return nil
}
