package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDispatch = "dispatch"
	MeasurementQueue    = "queue"
)

// DispatchMetric describes one dispatch event.
//
// Tags carry the low-cardinality dimensions; Duration and Members become
// fields. Empty string tags are omitted.
type DispatchMetric struct {
	Stage    string
	Target   string
	Group    string
	Kind     string
	Priority string
	Mode     string
	Status   string
	Duration time.Duration
	Members  int
	Time     time.Time
}

// WriteDispatchMetric records one dispatch event. The write is non-blocking.
//
// Example:
//
//	client.WriteDispatchMetric(influxdb.DispatchMetric{
//	    Stage: "completed", Target: "led_light", Status: "ok", Duration: d,
//	})
func (c *Client) WriteDispatchMetric(m DispatchMetric) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{}
	for k, v := range map[string]string{
		"stage":    m.Stage,
		"target":   m.Target,
		"group":    m.Group,
		"kind":     m.Kind,
		"priority": m.Priority,
		"mode":     m.Mode,
		"status":   m.Status,
	} {
		if v != "" {
			tags[k] = v
		}
	}

	fields := map[string]any{
		"count":       1,
		"duration_us": m.Duration.Microseconds(),
	}
	if m.Members > 0 {
		fields["members"] = m.Members
	}

	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementDispatch, tags, fields, ts))
}

// WriteQueueDepth records a device queue's length and byte usage.
func (c *Client) WriteQueueDepth(device string, length, bytes int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementQueue,
		map[string]string{"device": device},
		map[string]any{"length": length, "bytes": bytes},
		time.Now(),
	))
}

// WritePoint writes a custom point.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
