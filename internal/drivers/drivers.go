// Package drivers provides the built-in softbus device drivers.
//
// Drivers are created by name from a catalogue so device definitions can be
// declared in configuration or persisted and rebuilt at startup:
//
//	drv, err := drivers.New("led", map[string]string{"brightness": "40"})
//
// Every built-in driver answers Command and Status messages with a Response
// enqueued through device.Request.Reply and ignores Data, Response and Error
// messages, so replies delivered back to the device are not answered again.
package drivers

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// Driver names.
const (
	KindLED         = "led"
	KindTemperature = "temperature"
	KindEcho        = "echo"
)

// Replies shared by the built-in drivers.
const (
	replyUnknown   = "unknown_command"
	replyEmergency = "emergency:none"
)

var (
	// ErrUnknownDriver is returned when no driver is registered under a name.
	ErrUnknownDriver = errors.New("drivers: unknown driver")

	// ErrInvalidOption is returned when a driver option cannot be parsed.
	ErrInvalidOption = errors.New("drivers: invalid option")
)

// Factory builds a driver from its options.
type Factory func(options map[string]string) (device.Driver, error)

var catalogue = map[string]Factory{
	KindLED:         newLED,
	KindTemperature: newTemperature,
	KindEcho:        newEcho,
}

// New builds the driver registered under kind.
func New(kind string, options map[string]string) (device.Driver, error) {
	factory, ok := catalogue[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, kind)
	}
	return factory(options)
}

// Kinds returns the available driver names, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(catalogue))
	for k := range catalogue {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// answers reports whether a driver should reply to a message of kind k.
func answers(k message.Kind) bool {
	return k == message.KindCommand || k == message.KindStatus
}

// atoi parses a leading optionally-signed decimal integer and ignores the
// rest of the string. Anything unparseable yields 0.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<31 {
			break
		}
	}
	if neg {
		return -n
	}
	return n
}
