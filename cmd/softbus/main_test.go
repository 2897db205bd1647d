package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/softbus/internal/infrastructure/logging"
	"github.com/nerrad567/softbus/internal/message"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRootCommand verifies every subcommand is wired.
func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "softbus" {
		t.Errorf("Use = %q, want softbus", cmd.Use)
	}

	for _, name := range []string{"serve", "demo", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", name, err)
			}
			if sub.Name() != name {
				t.Errorf("Find(%q) = %q", name, sub.Name())
			}
		})
	}

	flag := cmd.PersistentFlags().Lookup("config")
	if flag == nil || flag.Shorthand != "c" {
		t.Errorf("config flag = %+v", flag)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	opts := &RootOptions{}
	if got := opts.configPath(); got != defaultConfigPath {
		t.Errorf("configPath() = %q, want default", got)
	}

	t.Setenv(configEnv, "/etc/softbus/config.yaml")
	if got := opts.configPath(); got != "/etc/softbus/config.yaml" {
		t.Errorf("configPath() = %q, want env value", got)
	}

	opts.ConfigPath = "/tmp/flag.yaml"
	if got := opts.configPath(); got != "/tmp/flag.yaml" {
		t.Errorf("configPath() = %q, want flag value", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "plain error", err: errors.New("boom"), want: ExitFailure},
		{name: "ok status", err: &ExitError{Status: bus.StatusOK, Message: "done"}, want: ExitSuccess},
		{name: "not found", err: WrapExitError("send", device.ErrDeviceNotFound), want: ExitFailure},
		{name: "wrapped", err: fmt.Errorf("outer: %w", WrapExitError("send", bus.ErrTimeout)), want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapExitError(t *testing.T) {
	err := WrapExitError("send failed", device.ErrDeviceNotFound)
	if err.Status != bus.StatusNotFound {
		t.Errorf("Status = %s, want not_found", err.Status)
	}
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Error("WrapExitError() should unwrap to the cause")
	}
	if !strings.HasPrefix(err.Error(), "send failed: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "softbus "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestDemo(t *testing.T) {
	var out bytes.Buffer
	err := runDemo(context.Background(), &out, logging.Discard())
	if err != nil {
		t.Fatalf("runDemo() error = %v\n%s", err, out.String())
	}
	if code := ExitCode(err); code != ExitSuccess {
		t.Errorf("ExitCode() = %d, want 0", code)
	}

	got := out.String()
	for _, want := range []string{
		"get_temperature -> temperature:25.5C",
		"set_brightness:75 -> brightness_set:75",
		"temperature_sensor: ok -> status:normal",
		"led_controller: ok -> status:on",
		"processed 4 messages for priority_probe",
		"Cleaning up...",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}

	// Drained highest priority first, regardless of posting order.
	order := []string{"handled urgent emergency", "handled high   alert", "handled normal report", "handled low    maintenance"}
	last := -1
	for _, line := range order {
		i := strings.Index(got, line)
		if i < 0 {
			t.Fatalf("output missing %q\n%s", line, got)
		}
		if i < last {
			t.Errorf("%q printed out of order\n%s", line, got)
		}
		last = i
	}
}

func TestDemoCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"demo"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "Registering devices...") {
		t.Errorf("output = %q", out.String())
	}
}

// TestServe_InvalidConfig verifies serve fails with an invalid config path.
func TestServe_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runServe(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("runServe() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("runServe() error = %v", err)
	}
}

// TestServe_UnknownDriver verifies provisioning errors abort startup.
func TestServe_UnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  enabled: false
api:
  enabled: false
audit:
  enabled: false
devices:
  - name: broken
    type: other
    driver: flux_capacitor
logging:
  level: error
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runServe(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "provisioning from config") {
		t.Errorf("runServe() error = %v, want provisioning failure", err)
	}
}

// TestServe_RunsUntilCancelled starts the daemon with a file database and
// no network services, then shuts it down.
func TestServe_RunsUntilCancelled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "softbus.db")
	path := writeConfig(t, fmt.Sprintf(`
database:
  enabled: true
  path: %q
  wal_mode: true
  busy_timeout: 5
api:
  enabled: false
devices:
  - name: temperature_sensor
    type: sensor
    driver: temperature
groups:
  - name: room1_devices
    members: [temperature_sensor]
logging:
  level: error
  output: stderr
`, dbPath))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := runServe(ctx, path); err != nil {
		t.Fatalf("runServe() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	dispatch []influxdb.DispatchMetric
	depths   map[string]int
}

func (r *recordingMetrics) WriteDispatchMetric(m influxdb.DispatchMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch = append(r.dispatch, m)
}

func (r *recordingMetrics) WriteQueueDepth(name string, length, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.depths == nil {
		r.depths = make(map[string]int)
	}
	r.depths[name] = length
}

func TestDispatchMetrics(t *testing.T) {
	rec := &recordingMetrics{}
	obs := dispatchMetrics{w: rec}

	obs.Observe(bus.Event{
		Stage:    bus.StageCompleted,
		Target:   "led_controller",
		Kind:     message.KindResponse,
		Priority: message.PriorityHigh,
		Mode:     bus.ModeSync,
		Status:   bus.StatusOK,
		Duration: 3 * time.Millisecond,
	})
	obs.Observe(bus.Event{Stage: bus.StageProcessed, Target: "led_controller", Mode: bus.ModeSync})

	if len(rec.dispatch) != 2 {
		t.Fatalf("got %d metrics, want 2", len(rec.dispatch))
	}
	m := rec.dispatch[0]
	if m.Stage != "completed" || m.Kind != "response" || m.Priority != "high" || m.Mode != "sync" || m.Status != "ok" {
		t.Errorf("metric = %+v", m)
	}
	if m.Duration != 3*time.Millisecond {
		t.Errorf("Duration = %v", m.Duration)
	}
	if rec.dispatch[1].Mode != "" {
		t.Errorf("processed metric Mode = %q, want empty", rec.dispatch[1].Mode)
	}
}

func TestWriteQueueDepths(t *testing.T) {
	devices := device.NewRegistry(device.DefaultLimits())
	groups := device.NewGroupRegistry(devices)
	engine := bus.NewEngine(devices, groups, bus.Options{})
	noop := device.HandlerFunc(func(context.Context, *device.Request) error { return nil })

	ctx := context.Background()
	if _, err := devices.Register(ctx, "idle", device.TypeOther, noop); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for range 3 {
		if _, err := engine.Post(ctx, bus.Envelope{Target: "idle", Content: "x"}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}

	rec := &recordingMetrics{}
	writeQueueDepths(devices, rec)
	if rec.depths["idle"] != 3 {
		t.Errorf("depth = %d, want 3", rec.depths["idle"])
	}
}

func TestQueueSampleInterval(t *testing.T) {
	if got := queueSampleInterval(config.InfluxDBConfig{}); got != defaultQueueSampleInterval {
		t.Errorf("queueSampleInterval(0) = %v", got)
	}
	if got := queueSampleInterval(config.InfluxDBConfig{FlushInterval: 2}); got != 2*time.Second {
		t.Errorf("queueSampleInterval(2) = %v", got)
	}
}
