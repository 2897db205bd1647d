package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/softbus/internal/message"
)

// EventType is the CloudEvents type of a relayed group message.
const EventType = "io.softbus.group.message"

// Extension attribute names.
const (
	extKind     = "kind"
	extPriority = "priority"
)

var (
	// ErrInvalidEvent is returned for payloads that are not softbus group events.
	ErrInvalidEvent = errors.New("mqttbridge: invalid event")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("mqttbridge: not started")
)

// Client is the subset of *mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Sink receives inbound group messages. *bus.Engine implements it.
type Sink interface {
	Inject(ctx context.Context, in bus.Inbound) error
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Bridge is a bus.Transport backed by an MQTT broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Bridge struct {
	client Client
	sink   Sink
	topics mqtt.Topics
	source string
	qos    byte
	logger Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a bridge over an already connected client.
//
// Parameters:
//   - client: Connected MQTT client
//   - cfg: MQTT configuration; Bridge.TopicPrefix and Bridge.Source are used
//   - sink: Destination for inbound events; nil makes the bridge publish-only
//   - logger: Optional logger; nil discards
func New(client Client, cfg config.MQTTConfig, sink Sink, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	source := cfg.Bridge.Source
	if source == "" {
		source = cfg.Broker.ClientID
	}
	return &Bridge{
		client: client,
		sink:   sink,
		topics: mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix},
		source: source,
		qos:    byte(cfg.QoS),
		logger: logger,
	}
}

// Source returns the CloudEvents source identifying this node.
func (b *Bridge) Source() string { return b.source }

// Broadcast publishes env as a CloudEvent on the group's topic.
func (b *Bridge) Broadcast(ctx context.Context, group string, env bus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := b.encode(group, env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.topics.GroupMessage(group), payload, b.qos, false); err != nil {
		return fmt.Errorf("relaying group %s: %w", group, err)
	}
	return nil
}

func (b *Bridge) encode(group string, env bus.Envelope) ([]byte, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetType(EventType)
	e.SetSource(b.source)
	e.SetSubject(group)
	e.SetExtension(extKind, env.Kind.String())
	e.SetExtension(extPriority, env.Priority.String())
	// A string keeps the content readable in "data"; bytes would be base64.
	if err := e.SetData(cloudevents.TextPlain, env.Content); err != nil {
		return nil, fmt.Errorf("encoding group %s: %w", group, err)
	}
	return json.Marshal(e)
}

// decode parses a group event. The subject must match the topic's group.
func decode(topicGroup string, payload []byte) (source string, in bus.Inbound, err error) {
	e := cloudevents.NewEvent()
	if err := json.Unmarshal(payload, &e); err != nil {
		return "", bus.Inbound{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if e.Type() != EventType {
		return "", bus.Inbound{}, fmt.Errorf("%w: type %q", ErrInvalidEvent, e.Type())
	}
	if e.Subject() != topicGroup {
		return "", bus.Inbound{}, fmt.Errorf("%w: subject %q on group %q", ErrInvalidEvent, e.Subject(), topicGroup)
	}

	kind := message.KindCommand
	if v, ok := e.Extensions()[extKind].(string); ok {
		if kind, err = message.ParseKind(v); err != nil {
			return "", bus.Inbound{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	}
	priority := message.PriorityNormal
	if v, ok := e.Extensions()[extPriority].(string); ok {
		if priority, err = message.ParsePriority(v); err != nil {
			return "", bus.Inbound{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	}

	return e.Source(), bus.Inbound{
		Source:   e.Source(),
		Group:    topicGroup,
		Kind:     kind,
		Priority: priority,
		Content:  string(e.Data()),
	}, nil
}

// Start subscribes to every group topic and injects foreign events into the
// sink until ctx ends or Close is called.
func (b *Bridge) Start(ctx context.Context) error {
	if b.sink == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.client.Subscribe(b.topics.AllGroupMessages(), b.qos, b.handle); err != nil {
		b.cancel()
		return fmt.Errorf("subscribing to group topics: %w", err)
	}
	b.started = true
	return nil
}

func (b *Bridge) handle(topic string, payload []byte) error {
	group, ok := b.topics.GroupFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidEvent, topic)
	}
	source, in, err := decode(group, payload)
	if err != nil {
		return err
	}
	if source == b.source {
		return nil
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return nil
	}

	if err := b.sink.Inject(ctx, in); err != nil {
		b.logger.Debug("bridged message dropped", "group", group, "source", source, "error", err)
	}
	return nil
}

// Stop unsubscribes from group topics.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrNotStarted
	}
	b.started = false
	b.cancel()
	if err := b.client.Unsubscribe(b.topics.AllGroupMessages()); err != nil {
		return fmt.Errorf("unsubscribing from group topics: %w", err)
	}
	return nil
}

// Close stops the bridge. The MQTT client is owned by the caller.
func (b *Bridge) Close() error {
	if err := b.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return nil
}
