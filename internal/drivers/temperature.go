package drivers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nerrad567/softbus/internal/device"
)

const defaultReading = 25.5

// Temperature is a fixed-reading temperature sensor.
type Temperature struct {
	reading float64
}

func newTemperature(options map[string]string) (device.Driver, error) {
	t := &Temperature{reading: defaultReading}
	if v, ok := options["reading"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %q: %w", ErrInvalidOption, v, err)
		}
		t.reading = f
	}
	return t, nil
}

// ProcessMessage implements device.Driver.
func (t *Temperature) ProcessMessage(_ context.Context, req *device.Request) error {
	if !answers(req.Kind()) {
		return nil
	}

	switch string(req.Payload) {
	case "get_temperature":
		return req.Reply(fmt.Sprintf("temperature:%.1fC", t.reading))
	case "status_check":
		return req.Reply("status:normal")
	case "emergency_status":
		return req.Reply(replyEmergency)
	default:
		return req.Reply(replyUnknown)
	}
}
