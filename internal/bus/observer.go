package bus

import (
	"time"

	"github.com/nerrad567/softbus/internal/message"
)

// Stage identifies where in a message's life an Event was raised.
type Stage string

// Event stages.
const (
	// StageSent: a message was inserted into a target queue.
	StageSent Stage = "sent"

	// StageProcessed: a driver returned for a message.
	StageProcessed Stage = "processed"

	// StageCompleted: a synchronous send returned.
	StageCompleted Stage = "completed"

	// StageGroup: a group send finished its fan-out.
	StageGroup Stage = "group"
)

// Event describes one dispatch step. Events are delivered synchronously on
// the goroutine doing the work, so observers must not block.
type Event struct {
	Stage     Stage            `json:"stage"`
	MessageID string           `json:"message_id,omitempty"`
	ReplyTo   string           `json:"reply_to,omitempty"`
	Target    string           `json:"target,omitempty"`
	Group     string           `json:"group,omitempty"`
	Kind      message.Kind     `json:"kind"`
	Priority  message.Priority `json:"priority"`
	Mode      Mode             `json:"mode"`
	Status    Status           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Content   string           `json:"content,omitempty"`
	Members   int              `json:"members,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
	Time      time.Time        `json:"time"`
}

// Observer receives dispatch events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// AddObserver registers an observer for every subsequent event.
func (e *Engine) AddObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, o := range observers {
		e.notify(o, ev)
	}
}

func (e *Engine) notify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("observer panicked", "stage", string(ev.Stage), "panic", r)
		}
	}()
	o.Observe(ev)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
