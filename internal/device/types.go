package device

import (
	"context"
	"time"

	"github.com/nerrad567/softbus/internal/message"
)

// Type classifies what a device is. It is informational; dispatch never
// branches on it.
type Type string

// Device types.
const (
	TypeSensor     Type = "sensor"
	TypeActuator   Type = "actuator"
	TypeController Type = "controller"
	TypeDisplay    Type = "display"
	TypeOther      Type = "other"
)

// AllTypes returns every recognised device type.
func AllTypes() []Type {
	return []Type{TypeSensor, TypeActuator, TypeController, TypeDisplay, TypeOther}
}

// Driver handles messages delivered to a device.
//
// ProcessMessage is called from whichever goroutine triggers a drain pass for
// the device. At most one call is in flight per device. Returning an error
// marks the message as failed; the engine does not retry. A driver may
// unregister its own device from ProcessMessage; Stop and Deinit then run
// after the call returns and the device's remaining messages are dropped.
type Driver interface {
	ProcessMessage(ctx context.Context, req *Request) error
}

// Initializer is implemented by drivers that need setup at registration.
type Initializer interface {
	Init(ctx context.Context) error
}

// Deinitializer is implemented by drivers that need teardown at unregistration.
type Deinitializer interface {
	Deinit(ctx context.Context) error
}

// Starter is implemented by drivers that run after Init succeeds.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by drivers that stop before Deinit.
type Stopper interface {
	Stop(ctx context.Context) error
}

// HandlerFunc adapts a plain function to the Driver interface.
type HandlerFunc func(ctx context.Context, req *Request) error

// ProcessMessage calls f(ctx, req).
func (f HandlerFunc) ProcessMessage(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// ReplyFunc enqueues a reply for the message being handled.
type ReplyFunc func(kind message.Kind, content string) error

// Request is one message handed to a driver.
type Request struct {
	// Device is the name of the device handling the message.
	Device string

	// Message describes the delivered message.
	Message message.Snapshot

	// Payload is the binary payload. It is only valid for the duration of
	// the ProcessMessage call.
	Payload []byte

	reply ReplyFunc
}

// NewRequest builds a request. reply may be nil, in which case Reply and
// Fail are no-ops.
func NewRequest(device string, msg message.Snapshot, payload []byte, reply ReplyFunc) *Request {
	return &Request{
		Device:  device,
		Message: msg,
		Payload: payload,
		reply:   reply,
	}
}

// Kind returns the delivered message's kind.
func (r *Request) Kind() message.Kind {
	return r.Message.Kind
}

// Content returns the delivered message's inline content.
func (r *Request) Content() string {
	return r.Message.Content
}

// Reply answers the message with a Response.
func (r *Request) Reply(content string) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(message.KindResponse, content)
}

// Fail answers the message with an Error.
func (r *Request) Fail(content string) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(message.KindError, content)
}

// Info is a point-in-time view of a registered device.
type Info struct {
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	QueueLength  int       `json:"queue_length"`
	QueueBytes   int       `json:"queue_bytes"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Limits bounds the registries and per-device queues.
type Limits struct {
	MaxDevices      int
	MaxGroups       int
	MaxGroupMembers int
	QueueLength     int
	QueueBytes      int
}

// Default limits.
const (
	DefaultMaxDevices      = 32
	DefaultMaxGroups       = 16
	DefaultMaxGroupMembers = 16
	DefaultQueueLength     = 256
	DefaultQueueBytes      = 256 * 1024
)

// DefaultLimits returns the default registry limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDevices:      DefaultMaxDevices,
		MaxGroups:       DefaultMaxGroups,
		MaxGroupMembers: DefaultMaxGroupMembers,
		QueueLength:     DefaultQueueLength,
		QueueBytes:      DefaultQueueBytes,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDevices <= 0 {
		l.MaxDevices = d.MaxDevices
	}
	if l.MaxGroups <= 0 {
		l.MaxGroups = d.MaxGroups
	}
	if l.MaxGroupMembers <= 0 {
		l.MaxGroupMembers = d.MaxGroupMembers
	}
	if l.QueueLength <= 0 {
		l.QueueLength = d.QueueLength
	}
	if l.QueueBytes <= 0 {
		l.QueueBytes = d.QueueBytes
	}
	return l
}
