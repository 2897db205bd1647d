package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

func newMsg(t *testing.T, target string, kind message.Kind, content, replyTo string) *message.Message {
	t.Helper()
	m, err := message.New(target, kind, message.PriorityHigh, content)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.ReplyTo = replyTo
	return m
}

func receive(ch <-chan result) (result, bool) {
	select {
	case r := <-ch:
		return r, true
	default:
		return result{}, false
	}
}

func TestCompletionTable_FiresOnCorrelatedReply(t *testing.T) {
	table := newCompletionTable()
	req := newMsg(t, "led", message.KindCommand, "set", "")
	done, _ := table.arm("led", req.ID)

	// The request's own insert never completes the wait.
	table.inserted("led", req, nil)
	if _, ok := receive(done); ok {
		t.Fatal("request insert fired the completion")
	}

	// Unrelated traffic is ignored.
	table.inserted("led", newMsg(t, "led", message.KindData, "noise", ""), nil)
	table.inserted("led", newMsg(t, "led", message.KindResponse, "other", "someone-else"), nil)
	if _, ok := receive(done); ok {
		t.Fatal("unrelated insert fired the completion")
	}

	table.inserted("led", newMsg(t, "led", message.KindResponse, "brightness_set:10", req.ID), nil)
	r, ok := receive(done)
	if !ok {
		t.Fatal("correlated reply did not fire the completion")
	}
	if r.err != nil || r.reply.Content != "brightness_set:10" || r.reply.RequestID != req.ID {
		t.Errorf("result = %+v", r)
	}
	if table.armed("led") {
		t.Error("completion still armed after firing")
	}

	// Fires exactly once.
	table.inserted("led", newMsg(t, "led", message.KindResponse, "again", req.ID), nil)
	if _, ok := receive(done); ok {
		t.Error("completion fired twice")
	}
}

func TestCompletionTable_UncorrelatedResponseCompletes(t *testing.T) {
	table := newCompletionTable()
	done, _ := table.arm("temp", "req-1")

	table.inserted("temp", newMsg(t, "temp", message.KindResponse, "temperature:25.5C", ""), nil)
	if r, ok := receive(done); !ok || r.reply.Content != "temperature:25.5C" {
		t.Errorf("result = %+v, %v", r, ok)
	}
}

func TestCompletionTable_ErrorReply(t *testing.T) {
	table := newCompletionTable()
	done, _ := table.arm("led", "req-1")

	table.inserted("led", newMsg(t, "led", message.KindError, "unsupported", "req-1"), nil)
	r, ok := receive(done)
	if !ok {
		t.Fatal("error reply did not fire")
	}
	if !errors.Is(r.err, ErrHandlerFailed) || r.reply.Status != StatusError {
		t.Errorf("result = %+v", r)
	}
}

func TestCompletionTable_HandlerFailure(t *testing.T) {
	table := newCompletionTable()
	done, _ := table.arm("led", "req-1")

	table.handled("led", "req-1", nil)
	table.handled("led", "other", errors.New("x"))
	if _, ok := receive(done); ok {
		t.Fatal("success or unrelated failure fired the completion")
	}

	table.handled("led", "req-1", errors.New("fault"))
	if r, ok := receive(done); !ok || r.err == nil || r.reply.Status != StatusError {
		t.Errorf("result = %+v, %v", r, ok)
	}
}

func TestCompletionTable_DisarmIgnoresStaleToken(t *testing.T) {
	table := newCompletionTable()
	_, oldToken := table.arm("led", "req-1")
	done, _ := table.arm("led", "req-2") // replaces req-1

	table.disarm("led", oldToken)
	if !table.armed("led") {
		t.Fatal("stale disarm removed the newer completion")
	}

	table.inserted("led", newMsg(t, "led", message.KindResponse, "ok", "req-2"), nil)
	if _, ok := receive(done); !ok {
		t.Error("replacement completion did not fire")
	}
}

func TestCompletionTable_Remove(t *testing.T) {
	table := newCompletionTable()
	done, _ := table.arm("led", "req-1")

	table.remove("led")
	r, ok := receive(done)
	if !ok || !errors.Is(r.err, device.ErrDeviceNotFound) {
		t.Errorf("result = %+v, %v", r, ok)
	}
	table.remove("led") // no-op
}

func TestCompletionTable_ConcurrentFireAndDisarm(t *testing.T) {
	table := newCompletionTable()
	for range 200 {
		done, token := table.arm("dev", "req")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			table.inserted("dev", &message.Message{ID: "r", Kind: message.KindResponse, ReplyTo: "req"}, nil)
		}()
		go func() {
			defer wg.Done()
			table.disarm("dev", token)
		}()
		wg.Wait()
		receive(done)
		if table.armed("dev") {
			t.Fatal("completion left armed")
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusOK},
		{"device missing", device.ErrDeviceNotFound, StatusNotFound},
		{"group missing", device.ErrGroupNotFound, StatusNotFound},
		{"duplicate", device.ErrDeviceExists, StatusAlreadyExists},
		{"capacity", device.ErrCapacityExceeded, StatusCapacityExceeded},
		{"group full", device.ErrGroupFull, StatusCapacityExceeded},
		{"queue full", message.ErrQueueFull, StatusCapacityExceeded},
		{"no memory", message.ErrNoMemory, StatusOutOfMemory},
		{"timeout", ErrTimeout, StatusTimeout},
		{"deadline", context.DeadlineExceeded, StatusTimeout},
		{"busy", ErrBusy, StatusBusy},
		{"bad name", device.ErrInvalidName, StatusInvalidArgument},
		{"handler", ErrHandlerFailed, StatusError},
		{"other", errors.New("?"), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if StatusTimeout != -5 || StatusNotFound != -3 || StatusOK != 0 {
		t.Error("status codes changed")
	}
}

func TestParseStatus(t *testing.T) {
	for st := range statusNames {
		got, err := ParseStatus(st.String())
		if err != nil || got != st {
			t.Errorf("ParseStatus(%q) = %v, %v", st.String(), got, err)
		}
	}
	if _, err := ParseStatus("maybe"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ParseStatus(maybe) error = %v, want ErrInvalidArgument", err)
	}
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	in := Reply{Device: "led", RequestID: "req-1", Kind: message.KindResponse, Content: "x", Status: StatusTimeout}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"status":"timeout"`) {
		t.Errorf("Marshal() = %s, want status by name", data)
	}

	var out Reply
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out != in {
		t.Errorf("Unmarshal() = %+v, want %+v", out, in)
	}

	var st Status
	if err := json.Unmarshal([]byte(`"sideways"`), &st); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Unmarshal(sideways) error = %v, want ErrInvalidArgument", err)
	}
}

func TestObservers(t *testing.T) {
	b := newTestBus(t)
	b.register(t, "led", &ackDriver{})

	var (
		mu     sync.Mutex
		stages []Stage
	)
	b.engine.AddObserver(ObserverFunc(func(Event) { panic("observer bug") }))
	b.engine.AddObserver(ObserverFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
		if ev.Time.IsZero() {
			t.Error("event without a timestamp")
		}
	}))

	if _, err := b.engine.Send(context.Background(), syncEnv("led", "x")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// request sent, reply sent, request processed, reply processed, completed
	want := []Stage{StageSent, StageSent, StageProcessed, StageProcessed, StageCompleted}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages = %v, want %v", stages, want)
			break
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAsync, "ASYNC": ModeAsync, "sync": ModeSync} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("later"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ParseMode(later) error = %v", err)
	}
}

func TestDefaultSyncTimeout(t *testing.T) {
	devices := device.NewRegistry(device.Limits{})
	e := NewEngine(devices, device.NewGroupRegistry(devices), Options{})
	if e.syncTimeout != 5*time.Second {
		t.Errorf("syncTimeout = %v, want 5s", e.syncTimeout)
	}
}
