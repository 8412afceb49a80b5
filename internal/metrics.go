package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	registrations atomic.Uint64
	logins        atomic.Uint64
	messages      atomic.Uint64
	uploads       atomic.Uint64
	downloads     atomic.Uint64
	activeConns   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRegistration() {
	m.registrations.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

func (m *Metrics) IncDownload() {
	m.downloads.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"registrations_total": m.registrations.Load(),
		"logins_total":        m.logins.Load(),
		"messages_total":      m.messages.Load(),
		"uploads_total":       m.uploads.Load(),
		"downloads_total":     m.downloads.Load(),
		"active_connections":  m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
