// Package bus is the softbus Dispatch Engine.
//
// The engine routes messages to devices registered in a device.Registry.
// Every device owns a priority queue; sending inserts into it and then runs a
// drain pass that hands each queued message to the device's driver.
//
// # Send modes
//
//   - ModeAsync: enqueue, trigger one drain pass, return.
//   - ModeSync: arm a completion for the target, enqueue, drain, then wait
//     for the driver's reply or the deadline.
//
// A reply is itself a message: the driver calls Request.Reply, which
// enqueues a Response to its own queue carrying the request's ID in ReplyTo.
// Inserting that message fires the armed completion, which captures its
// content for the waiting sender.
//
// # Drain passes
//
// There is no background worker. A queue drains only when a send targets it
// or a caller invokes ProcessMessages. At most one pass runs per device;
// the pass re-checks the queue after releasing its claim so an insert that
// raced the release is never stranded.
//
// # Group sends
//
// SendGroup fans out sequentially over a snapshot of the group's members.
// Asynchronous group sends may go through a Transport first (UDP multicast
// or MQTT); inbound transport traffic comes back in through Inject.
//
// # Example
//
//	engine := bus.NewEngine(devices, groups, bus.Options{Logger: log})
//	reply, err := engine.Send(ctx, bus.Envelope{
//	    Target:   "led_controller",
//	    Kind:     message.KindCommand,
//	    Priority: message.PriorityHigh,
//	    Content:  "set_brightness:75",
//	    Mode:     bus.ModeSync,
//	    Timeout:  5 * time.Second,
//	})
//	// reply.Content == "brightness_set:75"
package bus
