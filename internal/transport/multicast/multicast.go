package multicast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/message"
)

var (
	// ErrMessageTooLarge is returned for content that does not fit one datagram.
	ErrMessageTooLarge = errors.New("multicast: message too large")

	// ErrClosed is returned by Broadcast after Close.
	ErrClosed = errors.New("multicast: transport closed")

	// ErrInvalidConfig is returned by Open for an unusable address or interface.
	ErrInvalidConfig = errors.New("multicast: invalid configuration")
)

// MaxDatagram is the largest payload sent or accepted.
const MaxDatagram = message.MaxContentLength

// Sink receives inbound datagrams. *bus.Engine implements it.
type Sink interface {
	Inject(ctx context.Context, in bus.Inbound) error
}

// Logger defines the logging interface used by the Transport.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Transport is a joined multicast socket plus its receiver goroutine.
//
// Thread Safety:
//   - Broadcast is safe for concurrent use.
//   - Close stops the receiver and waits for it; it is idempotent.
type Transport struct {
	conn   net.PacketConn
	pc     *ipv4.PacketConn
	dst    *net.UDPAddr
	sink   Sink
	logger Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open joins the configured multicast group and starts receiving.
//
// Parameters:
//   - ctx: Parent context for the receiver; cancelling it stops receiving
//   - cfg: Multicast configuration section
//   - sink: Destination for inbound datagrams; nil makes the transport send-only
//   - logger: Optional logger; nil discards
//
// Returns:
//   - *Transport: Joined transport
//   - error: ErrInvalidConfig, or a socket error
func Open(ctx context.Context, cfg config.MulticastConfig, sink Sink, logger Logger) (*Transport, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	group := net.ParseIP(cfg.Address).To4()
	if group == nil || !group.IsMulticast() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 multicast address", ErrInvalidConfig, cfg.Address)
	}
	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return nil, fmt.Errorf("%w: interface %s: %w", ErrInvalidConfig, cfg.Interface, err)
		}
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("binding multicast port %d: %w", cfg.Port, err)
	}
	pc := ipv4.NewPacketConn(conn)
	dst := &net.UDPAddr{IP: group, Port: cfg.Port}

	if err := configure(pc, ifi, dst, cfg); err != nil {
		conn.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		conn:   conn,
		pc:     pc,
		dst:    dst,
		sink:   sink,
		logger: logger,
		cancel: cancel,
	}
	if sink != nil {
		t.wg.Add(1)
		go t.receive(rctx)
	}
	// Unblock ReadFrom when the parent context ends.
	context.AfterFunc(rctx, func() { conn.Close() }) //nolint:errcheck // closing unblocks the receiver

	return t, nil
}

func configure(pc *ipv4.PacketConn, ifi *net.Interface, dst *net.UDPAddr, cfg config.MulticastConfig) error {
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: dst.IP}); err != nil {
		return fmt.Errorf("joining %s: %w", dst.IP, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("selecting interface %s: %w", ifi.Name, err)
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		return fmt.Errorf("setting loopback: %w", err)
	}
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			return fmt.Errorf("setting TTL: %w", err)
		}
	}
	return nil
}

// Addr returns the multicast group address datagrams are sent to.
func (t *Transport) Addr() *net.UDPAddr { return t.dst }

// Broadcast sends env.Content as one datagram. The group name is not carried
// on the wire; every node in the multicast group receives it.
func (t *Transport) Broadcast(ctx context.Context, group string, env bus.Envelope) error {
	if len(env.Content) > MaxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(env.Content))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.pc == nil {
		return ErrClosed
	}

	if _, err := t.pc.WriteTo([]byte(env.Content), nil, t.dst); err != nil {
		return fmt.Errorf("sending to %s for group %s: %w", t.dst, group, err)
	}
	t.logger.Debug("multicast sent", "group", group, "bytes", len(env.Content))
	return nil
}

func (t *Transport) receive(ctx context.Context) {
	defer t.wg.Done()

	// One spare byte detects oversize datagrams.
	buf := make([]byte, MaxDatagram+1)
	for {
		n, _, src, err := t.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("multicast receive failed", "error", err)
			continue
		}
		if n > MaxDatagram {
			t.logger.Warn("multicast datagram dropped", "source", src.String(), "reason", "too large")
			continue
		}
		if n == 0 {
			continue
		}

		in := bus.Inbound{
			Source:   src.String(),
			Kind:     message.KindCommand,
			Priority: message.PriorityNormal,
			Content:  string(buf[:n]),
		}
		if err := t.sink.Inject(ctx, in); err != nil {
			t.logger.Debug("multicast inject failed", "source", in.Source, "error", err)
		}
	}
}

// Close leaves the group, closes the socket and waits for the receiver.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.conn != nil {
		if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("closing multicast socket: %w", cerr)
		}
	}
	t.wg.Wait()
	return err
}
