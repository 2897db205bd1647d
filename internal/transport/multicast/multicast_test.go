package multicast

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/message"
)

type recordingSink struct {
	mu  sync.Mutex
	got []bus.Inbound
	ch  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan struct{}, 16)}
}

func (s *recordingSink) Inject(_ context.Context, in bus.Inbound) error {
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
	s.ch <- struct{}{}
	return nil
}

func testConfig() config.MulticastConfig {
	return config.MulticastConfig{
		Enabled:  true,
		Address:  "239.0.0.1",
		Port:     45000 + os.Getpid()%1000,
		Loopback: true,
		TTL:      1,
	}
}

// openOrSkip skips on hosts without a multicast-capable interface.
func openOrSkip(t *testing.T, sink Sink) *Transport {
	t.Helper()
	tr, err := Open(context.Background(), testConfig(), sink, nil)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck // test cleanup
	return tr
}

func TestOpen_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MulticastConfig
	}{
		{"unicast address", config.MulticastConfig{Address: "10.0.0.1", Port: 45678}},
		{"garbage address", config.MulticastConfig{Address: "not-an-ip", Port: 45678}},
		{"ipv6", config.MulticastConfig{Address: "ff02::1", Port: 45678}},
		{"missing interface", config.MulticastConfig{Address: "239.0.0.1", Port: 45678, Interface: "does-not-exist0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Open() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestBroadcast_TooLarge(t *testing.T) {
	tr := &Transport{}
	env := bus.Envelope{Content: strings.Repeat("x", MaxDatagram+1)}
	if err := tr.Broadcast(context.Background(), "g", env); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Broadcast() error = %v, want ErrMessageTooLarge", err)
	}
}

func TestBroadcast_AfterClose(t *testing.T) {
	tr := openOrSkip(t, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Broadcast(context.Background(), "g", bus.Envelope{Content: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Broadcast() after Close error = %v, want ErrClosed", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	sink := newRecordingSink()
	tr := openOrSkip(t, sink)

	if err := tr.Broadcast(context.Background(), "room1_devices", bus.Envelope{Content: "status_check"}); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}

	select {
	case <-sink.ch:
	case <-time.After(2 * time.Second):
		t.Skip("multicast loopback not delivered on this host")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	in := sink.got[0]
	if in.Content != "status_check" || in.Kind != message.KindCommand || in.Priority != message.PriorityNormal {
		t.Errorf("inbound = %+v", in)
	}
	if in.Source == "" {
		t.Error("inbound without source address")
	}
}

func TestRoundTripIntoEngine(t *testing.T) {
	devices := device.NewRegistry(device.DefaultLimits())
	engine := bus.NewEngine(devices, device.NewGroupRegistry(devices), bus.Options{})

	got := make(chan string, 4)
	inbox := device.HandlerFunc(func(_ context.Context, req *device.Request) error {
		got <- req.Content()
		return nil
	})
	if _, err := devices.Register(context.Background(), bus.MulticastTarget, device.TypeOther, inbox); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tr := openOrSkip(t, engine)
	if err := tr.Broadcast(context.Background(), "g", bus.Envelope{Content: "hello"}); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}

	select {
	case content := <-got:
		if content != "hello" {
			t.Errorf("inbox content = %q, want hello", content)
		}
	case <-time.After(2 * time.Second):
		t.Skip("multicast loopback not delivered on this host")
	}
}
