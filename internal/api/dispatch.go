package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// SendRequest is the body of POST /devices/{name}/messages and
// POST /groups/{name}/messages. Omitted fields default to a normal-priority
// asynchronous command.
type SendRequest struct {
	Kind      *message.Kind     `json:"kind"`
	Priority  *message.Priority `json:"priority"`
	Content   string            `json:"content"`
	Mode      bus.Mode          `json:"mode"`
	TimeoutMS int               `json:"timeout_ms"`
}

// envelope converts the request into a bus envelope for target.
func (req SendRequest) envelope(target string) bus.Envelope {
	env := bus.Envelope{
		Target:   target,
		Kind:     message.KindCommand,
		Priority: message.PriorityNormal,
		Content:  req.Content,
		Mode:     req.Mode,
	}
	if req.Kind != nil {
		env.Kind = *req.Kind
	}
	if req.Priority != nil {
		env.Priority = *req.Priority
	}
	if req.TimeoutMS > 0 {
		env.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	return env
}

// decodeSend reads a SendRequest. Unknown kind, priority or mode names are
// reported as invalid_argument.
func decodeSend(w http.ResponseWriter, r *http.Request) (SendRequest, bool) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, message.ErrInvalidKind) || errors.Is(err, message.ErrInvalidPriority) || errors.Is(err, bus.ErrInvalidArgument) {
			writeBusError(w, err)
			return req, false
		}
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, bus.StatusInvalidArgument.String(), "timeout_ms must not be negative")
		return req, false
	}
	return req, true
}

// handleSend delivers one message to a device.
//
// Synchronous sends answer 200 with the captured reply. Asynchronous sends
// answer 202 with the request ID once the message is queued and a drain pass
// has run.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSend(w, r)
	if !ok {
		return
	}

	reply, err := s.engine.Send(r.Context(), req.envelope(chi.URLParam(r, "name")))
	if err != nil {
		writeBusError(w, err)
		return
	}

	code := http.StatusOK
	if req.Mode == bus.ModeAsync {
		code = http.StatusAccepted
	}
	writeJSON(w, code, reply)
}

// handleDrain runs one drain pass over a device queue.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n, err := s.engine.ProcessMessages(r.Context(), name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": name, "processed": n})
}

// MemberView reports one member's outcome of a group send.
type MemberView struct {
	Device string     `json:"device"`
	Status bus.Status `json:"status"`
	Reply  *bus.Reply `json:"reply,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// GroupSendResponse is the answer to POST /groups/{name}/messages.
type GroupSendResponse struct {
	Group   string       `json:"group"`
	Status  bus.Status   `json:"status"`
	Error   string       `json:"error,omitempty"`
	Results []MemberView `json:"results"`
}

// handleSendGroup fans a message out to every member of a group.
//
// Member failures do not fail the request: the response is 200 with the
// first failure in status and error, and one result per reported member.
func (s *Server) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSend(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	resp := GroupSendResponse{Group: name, Results: []MemberView{}}
	err := s.engine.SendGroup(r.Context(), name, req.envelope(""), func(m bus.MemberResult) {
		view := MemberView{Device: m.Device, Status: m.Status}
		if m.Err != nil {
			view.Error = m.Err.Error()
		}
		if m.Err == nil || m.Reply.RequestID != "" {
			reply := m.Reply
			view.Reply = &reply
		}
		resp.Results = append(resp.Results, view)
	})
	if err != nil && len(resp.Results) == 0 && (errors.Is(err, device.ErrGroupNotFound) || errors.Is(err, bus.ErrClosed)) {
		writeBusError(w, err)
		return
	}

	resp.Status = bus.StatusOf(err)
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
