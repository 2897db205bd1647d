package drivers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/softbus/internal/device"
)

const (
	ledPrefix        = "set_brightness"
	ledMaxBrightness = 100
)

// LED is a dimmable light controller.
//
// Commands:
//   - set_brightness:<n>: clamps n to 0..100, answers brightness_set:<n>
//   - get_brightness: answers brightness:<n>
//   - status_check: answers status:on
//   - emergency_status: answers emergency:none
type LED struct {
	mu         sync.Mutex
	brightness int
}

func newLED(options map[string]string) (device.Driver, error) {
	l := &LED{}
	if v, ok := options["brightness"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: brightness %q: %w", ErrInvalidOption, v, err)
		}
		l.brightness = clampBrightness(n)
	}
	return l, nil
}

// Brightness returns the current brightness level.
func (l *LED) Brightness() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brightness
}

// ProcessMessage implements device.Driver.
func (l *LED) ProcessMessage(_ context.Context, req *device.Request) error {
	if !answers(req.Kind()) {
		return nil
	}

	cmd := string(req.Payload)
	switch {
	case strings.HasPrefix(cmd, ledPrefix):
		arg := strings.TrimLeft(cmd[len(ledPrefix):], " :")
		n := clampBrightness(atoi(arg))

		l.mu.Lock()
		l.brightness = n
		l.mu.Unlock()
		return req.Reply(fmt.Sprintf("brightness_set:%d", n))
	case cmd == "get_brightness":
		return req.Reply(fmt.Sprintf("brightness:%d", l.Brightness()))
	case cmd == "status_check":
		return req.Reply("status:on")
	case cmd == "emergency_status":
		return req.Reply(replyEmergency)
	default:
		return req.Reply(replyUnknown)
	}
}

func clampBrightness(n int) int {
	return max(0, min(n, ledMaxBrightness))
}
