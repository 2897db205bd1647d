package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// ackDriver answers Command and Status messages with "<device>:<content>"
// and records every kind it sees.
type ackDriver struct {
	mu   sync.Mutex
	seen []message.Snapshot
}

func (d *ackDriver) ProcessMessage(_ context.Context, req *device.Request) error {
	d.mu.Lock()
	d.seen = append(d.seen, req.Message)
	d.mu.Unlock()

	switch req.Kind() {
	case message.KindCommand, message.KindStatus:
		return req.Reply(req.Device + ":" + string(req.Payload))
	}
	return nil
}

func (d *ackDriver) contents(kind message.Kind) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.seen {
		if s.Kind == kind {
			out = append(out, s.Content)
		}
	}
	return out
}

type testBus struct {
	engine  *Engine
	devices *device.Registry
	groups  *device.GroupRegistry
}

func newTestBus(t *testing.T) *testBus {
	t.Helper()
	devices := device.NewRegistry(device.Limits{})
	groups := device.NewGroupRegistry(devices)
	engine := NewEngine(devices, groups, Options{SyncTimeout: time.Second})
	t.Cleanup(func() {
		engine.Close()                       //nolint:errcheck // test cleanup
		devices.Close(context.Background()) //nolint:errcheck // test cleanup
	})
	return &testBus{engine: engine, devices: devices, groups: groups}
}

func (b *testBus) register(t *testing.T, name string, drv device.Driver) {
	t.Helper()
	if _, err := b.devices.Register(context.Background(), name, device.TypeOther, drv); err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
}

func syncEnv(target, content string) Envelope {
	return Envelope{
		Target:   target,
		Kind:     message.KindCommand,
		Priority: message.PriorityHigh,
		Content:  content,
		Mode:     ModeSync,
		Timeout:  time.Second,
	}
}

func TestSend_SyncReceivesReply(t *testing.T) {
	b := newTestBus(t)
	drv := &ackDriver{}
	b.register(t, "led", drv)

	reply, err := b.engine.Send(context.Background(), syncEnv("led", "set_brightness:75"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != "led:set_brightness:75" {
		t.Errorf("reply.Content = %q", reply.Content)
	}
	if reply.Status != StatusOK || reply.Kind != message.KindResponse {
		t.Errorf("reply = %+v, want OK Response", reply)
	}
	if reply.RequestID == "" || reply.MessageID == "" || reply.RequestID == reply.MessageID {
		t.Errorf("reply IDs = %q/%q", reply.RequestID, reply.MessageID)
	}

	if b.engine.completions.armed("led") {
		t.Error("completion still armed after Send()")
	}

	// The reply is delivered back to the driver by the same pass, which may
	// still be running when Send returns.
	waitUntil(t, "response delivered to driver", func() bool {
		return len(drv.contents(message.KindResponse)) == 1 && b.devices.Infos()[0].QueueLength == 0
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSend_SyncReturnsBeforeHandlerFinishes verifies the caller gets its
// reply as soon as it is captured, not when the handler returns.
func TestSend_SyncReturnsBeforeHandlerFinishes(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	b.register(t, "slow", device.HandlerFunc(func(_ context.Context, req *device.Request) error {
		if req.Kind() != message.KindCommand {
			return nil
		}
		if err := req.Reply("done"); err != nil {
			return err
		}
		select {
		case <-release:
		case <-time.After(1500 * time.Millisecond):
		}
		return nil
	}))
	t.Cleanup(func() { close(release) })

	start := time.Now()
	reply, err := b.engine.Send(context.Background(), syncEnv("slow", "work"))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != "done" || reply.Status != StatusOK {
		t.Errorf("reply = %+v, want OK done", reply)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Send() took %v, want it to return once the reply was captured", elapsed)
	}
}

func TestSend_SyncTimeoutWhenNoReply(t *testing.T) {
	b := newTestBus(t)
	var calls atomic.Int32
	b.register(t, "mute", device.HandlerFunc(func(context.Context, *device.Request) error {
		calls.Add(1)
		return nil
	}))

	env := syncEnv("mute", "ping")
	env.Timeout = 50 * time.Millisecond

	start := time.Now()
	reply, err := b.engine.Send(context.Background(), env)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() error = %v, want ErrTimeout", err)
	}
	if reply.Status != StatusTimeout {
		t.Errorf("reply.Status = %v, want timeout", reply.Status)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Send() returned after %v, before the deadline", elapsed)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if b.engine.completions.armed("mute") {
		t.Error("completion still armed after timeout")
	}

	// A later send still works.
	if _, err := b.engine.Send(context.Background(), Envelope{Target: "mute", Kind: message.KindData}); err != nil {
		t.Errorf("async Send() after timeout error = %v", err)
	}
}

func TestSend_SyncTimeoutWithHangingHandler(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	b.register(t, "stuck", device.HandlerFunc(func(context.Context, *device.Request) error {
		entered <- struct{}{}
		<-release
		return nil
	}))
	// Runs before the registry cleanup so the pass holding teardown ends.
	t.Cleanup(func() { close(release) })

	env := syncEnv("stuck", "work")
	env.Timeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := b.engine.Send(context.Background(), env)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("Send() error = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send() did not honour its deadline while the handler hung")
	}
	<-entered
}

func TestSend_HandlerFailure(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "bad", device.HandlerFunc(func(context.Context, *device.Request) error {
		return errors.New("sensor offline")
	}))
	b.register(t, "rejects", device.HandlerFunc(func(_ context.Context, req *device.Request) error {
		if req.Kind() == message.KindCommand {
			return req.Fail("unsupported")
		}
		return nil
	}))
	b.register(t, "panics", device.HandlerFunc(func(context.Context, *device.Request) error {
		panic("boom")
	}))

	tests := []struct {
		target      string
		wantContent string
	}{
		{"bad", ""},
		{"rejects", "unsupported"},
		{"panics", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			reply, err := b.engine.Send(context.Background(), syncEnv(tt.target, "x"))
			if !errors.Is(err, ErrHandlerFailed) {
				t.Fatalf("Send() error = %v, want ErrHandlerFailed", err)
			}
			if reply.Status != StatusError || StatusOf(err) != StatusError {
				t.Errorf("status = %v / %v, want error", reply.Status, StatusOf(err))
			}
			if reply.Content != tt.wantContent {
				t.Errorf("reply.Content = %q, want %q", reply.Content, tt.wantContent)
			}
		})
	}
}

func TestSend_Validation(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "led", &ackDriver{})

	tests := []struct {
		name    string
		env     Envelope
		wantErr error
		want    Status
	}{
		{"unknown target", Envelope{Target: "ghost"}, device.ErrDeviceNotFound, StatusNotFound},
		{"empty target", Envelope{}, ErrInvalidArgument, StatusInvalidArgument},
		{"bad mode", Envelope{Target: "led", Mode: Mode(7)}, ErrInvalidArgument, StatusInvalidArgument},
		{"bad priority", Envelope{Target: "led", Priority: message.Priority(9)}, message.ErrInvalidPriority, StatusInvalidArgument},
		{"too long", Envelope{Target: "led", Content: strings.Repeat("x", message.MaxContentLength+1)}, message.ErrContentTooLong, StatusInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := b.engine.Send(context.Background(), tt.env)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if reply.Status != tt.want {
				t.Errorf("reply.Status = %v, want %v", reply.Status, tt.want)
			}
		})
	}

	if n := b.devices.Infos()[0].QueueLength; n != 0 {
		t.Errorf("rejected sends left %d messages queued", n)
	}
}

func TestSend_AsyncDrainsImmediately(t *testing.T) {
	b := newTestBus(t)
	drv := &ackDriver{}
	b.register(t, "sensor", drv)

	reply, err := b.engine.Send(context.Background(), Envelope{
		Target:   "sensor",
		Kind:     message.KindData,
		Priority: message.PriorityLow,
		Content:  "21.5",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Status != StatusOK || reply.RequestID == "" {
		t.Errorf("reply = %+v", reply)
	}
	if got := drv.contents(message.KindData); len(got) != 1 || got[0] != "21.5" {
		t.Errorf("driver saw %v, want [21.5]", got)
	}
}

func TestPost_ProcessMessagesInPriorityOrder(t *testing.T) {
	b := newTestBus(t)
	drv := &ackDriver{}
	b.register(t, "dev", drv)
	ctx := context.Background()

	for _, p := range []message.Priority{
		message.PriorityNormal, message.PriorityHigh, message.PriorityUrgent, message.PriorityLow,
	} {
		if _, err := b.engine.Post(ctx, Envelope{Target: "dev", Kind: message.KindData, Priority: p, Content: p.String()}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}

	pending, err := b.engine.Pending("dev", 0)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 4 || pending[0].Content != "urgent" {
		t.Errorf("Pending() = %+v", pending)
	}

	n, err := b.engine.ProcessMessages(ctx, "dev")
	if err != nil {
		t.Fatalf("ProcessMessages() error = %v", err)
	}
	if n != 4 {
		t.Errorf("ProcessMessages() = %d, want 4", n)
	}
	if got := fmt.Sprint(drv.contents(message.KindData)); got != "[urgent high normal low]" {
		t.Errorf("delivery order = %s", got)
	}

	if n, _ := b.engine.ProcessMessages(ctx, "dev"); n != 0 { //nolint:errcheck // device exists
		t.Errorf("second ProcessMessages() = %d, want 0", n)
	}
	if _, err := b.engine.ProcessMessages(ctx, "ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("ProcessMessages(ghost) error = %v", err)
	}
}

func TestProcessMessages_Busy(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "dev", &ackDriver{})

	d, _ := b.devices.Find("dev") //nolint:errcheck // registered above
	if !d.TryBeginDrain() {
		t.Fatal("TryBeginDrain() = false")
	}
	_, err := b.engine.ProcessMessages(context.Background(), "dev")
	d.EndDrain()

	if !errors.Is(err, ErrBusy) || StatusOf(err) != StatusBusy {
		t.Errorf("ProcessMessages() error = %v, want ErrBusy", err)
	}
}

func TestSend_ConcurrentAsyncAllDelivered(t *testing.T) {
	b := newTestBus(t)
	var handled atomic.Int32
	b.register(t, "sink", device.HandlerFunc(func(context.Context, *device.Request) error {
		handled.Add(1)
		return nil
	}))

	const senders, each = 8, 25
	var wg sync.WaitGroup
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				_, err := b.engine.Send(context.Background(), Envelope{
					Target:   "sink",
					Kind:     message.KindData,
					Priority: message.Priority(i % 4),
					Content:  "x",
				})
				if err != nil {
					t.Errorf("Send() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := handled.Load(); got != senders*each {
		t.Errorf("handled = %d, want %d", got, senders*each)
	}
}

func TestSend_ConcurrentSyncRepliesAreCorrelated(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "led", &ackDriver{})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content := fmt.Sprintf("set_brightness:%d", i)
			reply, err := b.engine.Send(context.Background(), syncEnv("led", content))
			if err != nil {
				t.Errorf("Send(%s) error = %v", content, err)
				return
			}
			if reply.Content != "led:"+content {
				t.Errorf("Send(%s) reply = %q", content, reply.Content)
			}
		}()
	}
	wg.Wait()
}

func TestUnregister_WakesSyncWaiter(t *testing.T) {
	b := newTestBus(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	b.register(t, "slow", device.HandlerFunc(func(_ context.Context, req *device.Request) error {
		if req.Kind() == message.KindCommand {
			close(entered)
			<-release
		}
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		env := syncEnv("slow", "x")
		env.Timeout = 5 * time.Second
		_, err := b.engine.Send(context.Background(), env)
		done <- err
	}()
	<-entered

	// Unregister removes the completion and leaves teardown to the pass.
	unregistered := make(chan error, 1)
	go func() { unregistered <- b.devices.Unregister(context.Background(), "slow") }()

	select {
	case err := <-done:
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("Send() error = %v, want ErrDeviceNotFound", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("waiter not woken by Unregister")
	}

	close(release)
	if err := <-unregistered; err != nil {
		t.Errorf("Unregister() error = %v", err)
	}
}

// TestUnregister_FromOwnHandler verifies a driver can remove its own device
// mid-pass; the rest of its queue is dropped.
func TestUnregister_FromOwnHandler(t *testing.T) {
	b := newTestBus(t)
	var handled atomic.Int32
	unregistered := make(chan error, 1)
	b.register(t, "self", device.HandlerFunc(func(ctx context.Context, req *device.Request) error {
		handled.Add(1)
		if string(req.Payload) == "leave" {
			unregistered <- b.devices.Unregister(ctx, req.Device)
		}
		return nil
	}))

	ctx := context.Background()
	for _, p := range []struct {
		priority message.Priority
		content  string
	}{
		{message.PriorityUrgent, "leave"},
		{message.PriorityLow, "after"},
	} {
		if _, err := b.engine.Post(ctx, Envelope{Target: "self", Priority: p.priority, Content: p.content}); err != nil {
			t.Fatalf("Post(%s) error = %v", p.content, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.engine.ProcessMessages(ctx, "self")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ProcessMessages() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessMessages() deadlocked when the handler unregistered its device")
	}

	if err := <-unregistered; err != nil {
		t.Errorf("Unregister() error = %v", err)
	}
	if n := handled.Load(); n != 1 {
		t.Errorf("handled %d messages, want 1", n)
	}
	if b.devices.IsRegistered("self") {
		t.Error("device still registered")
	}
}

func TestClose(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "dev", &ackDriver{})

	if err := b.engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := b.engine.Send(context.Background(), Envelope{Target: "dev"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close() error = %v, want ErrClosed", err)
	}
	if err := b.engine.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
