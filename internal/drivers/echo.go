package drivers

import (
	"context"

	"github.com/nerrad567/softbus/internal/device"
)

// Echo answers every Command and Status message with its own content.
// Option "prefix" is prepended to replies.
type Echo struct {
	prefix string
}

func newEcho(options map[string]string) (device.Driver, error) {
	return &Echo{prefix: options["prefix"]}, nil
}

// ProcessMessage implements device.Driver.
func (e *Echo) ProcessMessage(_ context.Context, req *device.Request) error {
	if !answers(req.Kind()) {
		return nil
	}
	return req.Reply(e.prefix + string(req.Payload))
}
