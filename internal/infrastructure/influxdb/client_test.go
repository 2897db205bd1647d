package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/softbus/internal/infrastructure/config"
)

// recordingWriter captures points in line protocol.
type recordingWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, write.PointToLineProtocol(p, time.Nanosecond))
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func newTestClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	return &Client{writeAPI: w, connected: true}, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "softbus",
		Bucket:  "metrics",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteDispatchMetric(t *testing.T) {
	c, w := newTestClient()
	at := time.Unix(1700000000, 0)

	c.WriteDispatchMetric(DispatchMetric{
		Stage:    "completed",
		Target:   "led_light",
		Kind:     "command",
		Priority: "high",
		Mode:     "sync",
		Status:   "ok",
		Duration: 1500 * time.Microsecond,
		Time:     at,
	})

	if len(w.lines) != 1 {
		t.Fatalf("points = %d, want 1", len(w.lines))
	}
	line := w.lines[0]
	for _, want := range []string{
		"dispatch,",
		"kind=command",
		"mode=sync",
		"stage=completed",
		"status=ok",
		"target=led_light",
		"count=1i",
		"duration_us=1500i",
		" 1700000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "group=") || strings.Contains(line, "members=") {
		t.Errorf("line %q carries empty group or members", line)
	}
}

func TestWriteDispatchMetric_Group(t *testing.T) {
	c, w := newTestClient()
	c.WriteDispatchMetric(DispatchMetric{Stage: "group", Group: "status_group", Status: "ok", Members: 2})

	if len(w.lines) != 1 || !strings.Contains(w.lines[0], "group=status_group") || !strings.Contains(w.lines[0], "members=2i") {
		t.Errorf("lines = %v", w.lines)
	}
}

func TestWriteQueueDepthAndPoint(t *testing.T) {
	c, w := newTestClient()
	c.WriteQueueDepth("temp_sensor", 3, 42)
	c.WritePoint("custom", map[string]string{"node": "a"}, map[string]any{"v": 1.5})

	if len(w.lines) != 2 {
		t.Fatalf("points = %d, want 2", len(w.lines))
	}
	if !strings.HasPrefix(w.lines[0], "queue,device=temp_sensor") || !strings.Contains(w.lines[0], "length=3i") {
		t.Errorf("queue line = %q", w.lines[0])
	}
	if !strings.HasPrefix(w.lines[1], "custom,node=a v=1.5") {
		t.Errorf("custom line = %q", w.lines[1])
	}
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushes = %d, want 1", w.flushes)
	}

	c.WriteDispatchMetric(DispatchMetric{Stage: "sent"})
	c.Flush()
	if len(w.lines) != 0 || w.flushes != 1 {
		t.Errorf("writes after Close: lines=%d flushes=%d", len(w.lines), w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Error("callback not invoked")
	}
}
