package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAdminMetricsAndSnapshot(t *testing.T) {
	srv, addr := startTestServer(t)
	tc := dialTestClient(t, addr)
	token := tc.signUp("alice")
	tc.join(token, "general")

	ts := httptest.NewServer(srv.AdminMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var metrics map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics["logins_total"] < 1 || metrics["active_connections"] < 1 {
		t.Fatalf("unexpected counters: %v", metrics)
	}

	resp, err = http.Get(ts.URL + "/connections")
	if err != nil {
		t.Fatalf("GET /connections: %v", err)
	}
	defer resp.Body.Close()
	var snap struct {
		Connections []map[string]any `json:"connections"`
		OnlineUsers int              `json:"online_users"`
		Sessions    int              `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode connections: %v", err)
	}
	if snap.OnlineUsers != 1 || snap.Sessions != 1 {
		t.Fatalf("unexpected presence totals: %+v", snap)
	}
	found := false
	for _, state := range snap.Connections {
		if state["username"] == "alice" && state["room"] == "general" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alice missing from snapshot: %v", snap.Connections)
	}
}

func TestAdminBroadcastScopes(t *testing.T) {
	srv, addr := startTestServer(t)
	tc := dialTestClient(t, addr)
	token := tc.signUp("alice")
	tc.join(token, "general")

	ts := httptest.NewServer(srv.AdminMux())
	defer ts.Close()

	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"all","message":"maintenance soon"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("scope all: status %d", resp.StatusCode)
	}
	msg := tc.expect(KindMessage)
	if msg["username"] != "server" || msg["message"] != "maintenance soon" {
		t.Fatalf("unexpected injected message: %v", msg)
	}

	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"room","target":"general","message":"room notice"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("scope room: status %d", resp.StatusCode)
	}
	if msg := tc.expect(KindMessage); msg["message"] != "room notice" {
		t.Fatalf("room injection not delivered: %v", msg)
	}
	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"room","target":"nowhere","message":"x"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room: status %d", resp.StatusCode)
	}

	var endpoint string
	for _, state := range srv.Snapshot() {
		if state.Username == "alice" {
			endpoint = state.RemoteAddr
		}
	}
	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"endpoint","target":"`+endpoint+`","message":"just you"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("scope endpoint: status %d", resp.StatusCode)
	}
	if msg := tc.expect(KindMessage); msg["message"] != "just you" {
		t.Fatalf("endpoint injection not delivered: %v", msg)
	}
	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"endpoint","target":"203.0.113.9:1","message":"x"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown endpoint: status %d", resp.StatusCode)
	}

	if resp := postJSON(t, ts.URL+"/broadcast", `{"scope":"all"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing message: status %d", resp.StatusCode)
	}
	resp, err := http.Get(ts.URL + "/broadcast")
	if err != nil {
		t.Fatalf("GET /broadcast: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET on a POST route: status %d", resp.StatusCode)
	}
}

func TestAdminDisconnect(t *testing.T) {
	srv, addr := startTestServer(t)
	tc := dialTestClient(t, addr)
	tc.signUp("alice")

	ts := httptest.NewServer(srv.AdminMux())
	defer ts.Close()

	if resp := postJSON(t, ts.URL+"/disconnect", `{"addr":"203.0.113.9:1"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown addr: status %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/disconnect", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing addr: status %d", resp.StatusCode)
	}

	var endpoint string
	for _, state := range srv.Snapshot() {
		if state.Username == "alice" {
			endpoint = state.RemoteAddr
		}
	}
	if resp := postJSON(t, ts.URL+"/disconnect", `{"addr":"`+endpoint+`"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("disconnect: status %d", resp.StatusCode)
	}
	_ = tc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := readFrame(tc.reader); err == nil {
		t.Fatal("expected the transport to be closed")
	}
}

func TestEventFeedDeliversEvents(t *testing.T) {
	srv, _ := startTestServer(t)
	ts := httptest.NewServer(srv.AdminMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer wsConn.Close()
	// The handshake completes before the handler registers the subscriber;
	// give it a moment so the publish below is not lost.
	time.Sleep(200 * time.Millisecond)

	srv.Events().Publish(Event{Kind: "message", Room: "general", Username: "alice"})

	_ = wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := wsConn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Kind != "message" || evt.Room != "general" || evt.Username != "alice" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Ts == 0 {
		t.Fatal("event missing timestamp")
	}
}

func TestEventHubDropsSlowSubscriber(t *testing.T) {
	hub := NewEventHub()
	sub := &eventSubscriber{send: make(chan []byte, 1)}
	hub.add(sub)

	hub.Publish(Event{Kind: "first"})
	// The buffer is full now; the hub drops the subscriber instead of blocking.
	hub.Publish(Event{Kind: "second"})

	if _, ok := <-sub.send; !ok {
		t.Fatal("expected the buffered event to survive")
	}
	if _, ok := <-sub.send; ok {
		t.Fatal("expected a closed channel after the drop")
	}
	// A dropped subscriber is gone; publishing again must not panic.
	hub.Publish(Event{Kind: "third"})
}
