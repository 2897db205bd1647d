package main

import (
	"context"
	"time"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/infrastructure/influxdb"
)

// metricsWriter is the part of influxdb.Client used by the observer.
type metricsWriter interface {
	WriteDispatchMetric(m influxdb.DispatchMetric)
	WriteQueueDepth(device string, length, bytes int)
}

// dispatchMetrics turns bus events into InfluxDB points.
type dispatchMetrics struct {
	w metricsWriter
}

// Observe implements bus.Observer.
func (m dispatchMetrics) Observe(ev bus.Event) {
	metric := influxdb.DispatchMetric{
		Stage:    string(ev.Stage),
		Target:   ev.Target,
		Group:    ev.Group,
		Kind:     ev.Kind.String(),
		Priority: ev.Priority.String(),
		Status:   ev.Status.String(),
		Duration: ev.Duration,
		Members:  ev.Members,
		Time:     ev.Time,
	}
	// Processed events describe a drain, not a send.
	if ev.Stage != bus.StageProcessed {
		metric.Mode = ev.Mode.String()
	}
	m.w.WriteDispatchMetric(metric)
}

// sampleQueues writes the depth of every device queue each interval until
// ctx is cancelled.
func sampleQueues(ctx context.Context, devices *device.Registry, w metricsWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeQueueDepths(devices, w)
		}
	}
}

func writeQueueDepths(devices *device.Registry, w metricsWriter) {
	for _, d := range devices.List() {
		q := d.Queue()
		w.WriteQueueDepth(d.Name(), q.Len(), q.Bytes())
	}
}
