package internal

import (
	"encoding/json"
	"errors"
	"net/http"
)

// The monitoring console is an external collaborator; this surface gives it
// what the engine contracts promise: a consistent registry snapshot, a
// forced-disconnect primitive, broadcast injection and a live event feed.

type broadcastRequest struct {
	Scope   string `json:"scope"` // "all", "room" or "endpoint"
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}

type disconnectRequest struct {
	Addr string `json:"addr"`
}

// AdminMux returns the monitoring HTTP handler set.
func (s *Server) AdminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics)
	mux.HandleFunc("/connections", s.handleConnectionsSnapshot)
	mux.HandleFunc("/disconnect", s.handleForcedDisconnect)
	mux.HandleFunc("/broadcast", s.handleInjectBroadcast)
	mux.HandleFunc("/events", s.events.ServeEvents)
	return mux
}

func (s *Server) handleConnectionsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":  s.Snapshot(),
		"online_users": s.presence.ActiveCount(),
		"sessions":     s.sessions.Len(),
	})
}

func (s *Server) handleForcedDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req disconnectRequest
	if err := decodeJSON(r, &req); err != nil || req.Addr == "" {
		writeError(w, http.StatusBadRequest, errors.New("addr required"))
		return
	}
	if !s.Disconnect(req.Addr) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInjectBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message required"))
		return
	}
	if !s.InjectBroadcast(req.Scope, req.Target, req.Message) {
		writeError(w, http.StatusNotFound, errors.New("no such scope target"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
