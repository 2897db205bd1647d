package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Bus           BusMetrics     `json:"bus"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BusMetrics summarises registry occupancy and queued work.
type BusMetrics struct {
	Devices       int            `json:"devices"`
	MaxDevices    int            `json:"max_devices"`
	Groups        int            `json:"groups"`
	MaxGroups     int            `json:"max_groups"`
	QueuedTotal   int            `json:"queued_total"`
	QueuedBytes   int            `json:"queued_bytes"`
	QueueByDevice map[string]int `json:"queue_by_device"`
}

// handleMetrics returns runtime and bus metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	devices := s.engine.Devices()
	limits := devices.Limits()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Bus: BusMetrics{
			Groups:        s.engine.Groups().Count(),
			MaxDevices:    limits.MaxDevices,
			MaxGroups:     limits.MaxGroups,
			QueueByDevice: make(map[string]int),
		},
	}

	for _, info := range devices.Infos() {
		metrics.Bus.Devices++
		metrics.Bus.QueuedTotal += info.QueueLength
		metrics.Bus.QueuedBytes += info.QueueBytes
		metrics.Bus.QueueByDevice[info.Name] = info.QueueLength
	}

	writeJSON(w, http.StatusOK, metrics)
}
