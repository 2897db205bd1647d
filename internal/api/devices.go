package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/softbus/internal/device"
)

// defaultPendingLimit caps GET /devices/{name}/messages without ?limit.
const defaultPendingLimit = 50

// DeviceView is the API representation of a registered device.
type DeviceView struct {
	device.Info
	Driver  string            `json:"driver,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// CreateDeviceRequest is the body of POST /devices.
type CreateDeviceRequest struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options"`
}

func (s *Server) deviceView(d *device.Device) DeviceView {
	view := DeviceView{Info: d.Info()}
	if def, ok := s.prov.Definition(d.Name()); ok {
		view.Driver = def.Driver
		view.Options = def.Options
	}
	return view
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	list := s.engine.Devices().List()
	views := make([]DeviceView, 0, len(list))
	for _, d := range list {
		views = append(views, s.deviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Devices().Find(chi.URLParam(r, "name"))
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(d))
}

// handleCreateDevice builds a driver and registers a device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req CreateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.prov.RegisterDevice(r.Context(), device.Definition{
		Name:      req.Name,
		Type:      device.Type(req.Type),
		Driver:    req.Driver,
		Options:   req.Options,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		writeBusError(w, err)
		return
	}

	s.logger.Info("device registered", "device", d.Name(), "driver", req.Driver)
	writeJSON(w, http.StatusCreated, s.deviceView(d))
}

// handleDeleteDevice unregisters a device. Queued messages are discarded and
// pending synchronous senders fail with not_found.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.prov.UnregisterDevice(r.Context(), name); err != nil {
		writeBusError(w, err)
		return
	}
	s.logger.Info("device unregistered", "device", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleListPending returns queued messages in delivery order.
//
// Query parameters:
//   - limit: max results (default 50)
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	name := chi.URLParam(r, "name")
	pending, err := s.engine.Pending(name, limit)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": name, "messages": pending, "count": len(pending)})
}
