package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/softbus/internal/device"
)

// CreateGroupRequest is the body of POST /groups.
type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) findGroup(name string) (device.GroupInfo, error) {
	for _, g := range s.engine.Groups().List() {
		if g.Name == name {
			return g, nil
		}
	}
	return device.GroupInfo{}, device.ErrGroupNotFound
}

// handleListGroups returns every group with its members.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.engine.Groups().List()
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleGetGroup returns one group.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.findGroup(chi.URLParam(r, "name"))
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleCreateGroup creates a group and adds the listed members in order.
// If any member cannot be added the group is deleted again.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctx := r.Context()
	if err := s.prov.CreateGroup(ctx, req.Name); err != nil {
		writeBusError(w, err)
		return
	}
	for _, member := range req.Members {
		if err := s.prov.AddMember(ctx, req.Name, member); err != nil {
			if delErr := s.prov.DeleteGroup(ctx, req.Name); delErr != nil {
				s.logger.Error("failed to remove partially created group", "group", req.Name, "error", delErr)
			}
			writeBusError(w, err)
			return
		}
	}

	g, err := s.findGroup(req.Name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	s.logger.Info("group created", "group", g.Name, "members", len(g.Members))
	writeJSON(w, http.StatusCreated, g)
}

// handleDeleteGroup deletes a group. Its devices stay registered.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.prov.DeleteGroup(r.Context(), name); err != nil {
		writeBusError(w, err)
		return
	}
	s.logger.Info("group deleted", "group", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMember adds a registered device to a group. Adding an existing
// member is a no-op.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.prov.AddMember(r.Context(), name, chi.URLParam(r, "device")); err != nil {
		writeBusError(w, err)
		return
	}
	g, err := s.findGroup(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleRemoveMember removes a device from a group.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.prov.RemoveMember(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "device")); err != nil {
		writeBusError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
