package internal

import "sync"

// Room is one named shared channel. The room set is fixed at startup; only
// membership changes. members preserves join order.
type Room struct {
	ID          string
	Name        string
	Description string
	members     []string
}

// RoomInfo is the listing view of a room.
type RoomInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	MembersCount int    `json:"members_count"`
}

// Rooms is the room directory and broadcast engine. A single mutex guards
// both membership and fan-out, so a broadcast can never observe a member
// list mid-mutation: joins and leaves land strictly before or after it.
type Rooms struct {
	mu       sync.Mutex
	order    []string
	byID     map[string]*Room
	registry *Registry
}

func NewRooms(registry *Registry, rooms []Room) *Rooms {
	r := &Rooms{
		byID:     make(map[string]*Room, len(rooms)),
		registry: registry,
	}
	for i := range rooms {
		room := rooms[i]
		r.order = append(r.order, room.ID)
		r.byID[room.ID] = &room
	}
	return r
}

// DefaultRooms is the fixed set the server starts with.
func DefaultRooms() []Room {
	return []Room{
		{ID: "general", Name: "General", Description: "General discussion and file sharing"},
		{ID: "projects", Name: "Projects", Description: "Collaborative project space"},
		{ID: "tech", Name: "Tech", Description: "Technical talk and code"},
		{ID: "random", Name: "Random", Description: "Everything else!"},
	}
}

// List returns every room with its live member count, in startup order.
func (r *Rooms) List() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomInfo, 0, len(r.order))
	for _, id := range r.order {
		room := r.byID[id]
		out = append(out, RoomInfo{
			ID:           room.ID,
			Name:         room.Name,
			Description:  room.Description,
			MembersCount: len(room.members),
		})
	}
	return out
}

// Exists reports whether roomID names a room.
func (r *Rooms) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[roomID]
	return ok
}

// Members returns a copy of the room's member list in join order.
func (r *Rooms) Members(roomID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byID[roomID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), room.members...), true
}

// Join moves the connection into roomID: it leaves any prior room, is added
// to the target idempotently, and the other members are notified. The whole
// move is one critical section, so "leave old, join new" is atomic.
func (r *Rooms) Join(c *Conn, username, roomID string) (name string, members []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, exists := r.byID[roomID]
	if !exists {
		return "", nil, false
	}

	if state, found := r.registry.Get(c); found && state.Room != "" && state.Room != roomID {
		if old, okOld := r.byID[state.Room]; okOld {
			old.members = removeMember(old.members, username)
		}
	}
	added := false
	if !contains(room.members, username) {
		room.members = append(room.members, username)
		added = true
	}
	r.registry.Update(c, func(state *ConnState) {
		state.Room = roomID
	})

	// Re-joining the current room changes nothing; the others are only
	// notified of an actual arrival.
	if added {
		r.broadcastLocked(roomID, mustEnvelope(KindUserJoined, map[string]string{
			"username": username,
			"room_id":  roomID,
		}), c)
	}

	return room.Name, append([]string(nil), room.members...), true
}

// Leave removes the connection from its current room, if any, and notifies
// the remaining members. Returns the room left, or "" if it was in none.
func (r *Rooms) Leave(c *Conn, username string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.registry.Get(c)
	if !ok || state.Room == "" {
		return ""
	}
	roomID := state.Room
	if room, exists := r.byID[roomID]; exists {
		room.members = removeMember(room.members, username)
	}
	r.registry.Update(c, func(st *ConnState) {
		st.Room = ""
	})
	r.broadcastLocked(roomID, mustEnvelope(KindUserLeft, map[string]string{
		"username": username,
		"room_id":  roomID,
	}), c)
	return roomID
}

// Broadcast fans an envelope out to every connection currently in roomID,
// excluding exclude when non-nil. Serialized with membership changes.
func (r *Rooms) Broadcast(roomID string, env Envelope, exclude *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(roomID, env, exclude)
}

func (r *Rooms) broadcastLocked(roomID string, env Envelope, exclude *Conn) {
	for _, c := range r.registry.ConnsInRoom(roomID) {
		if c == exclude {
			continue
		}
		// A failed write surfaces on that connection's own read loop.
		_ = c.sendEnvelope(env)
	}
}

func removeMember(members []string, username string) []string {
	for i, m := range members {
		if m == username {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}

func contains(members []string, username string) bool {
	for _, m := range members {
		if m == username {
			return true
		}
	}
	return false
}

// mustEnvelope is for server-generated payloads of plain maps, which cannot
// fail to marshal.
func mustEnvelope(kind string, payload any) Envelope {
	env, err := newEnvelope(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func (s *Server) handleListRooms(c *Conn, env Envelope) error {
	var req sessionRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindError, CodeInvalidData, "session_token required")
	}
	if _, ok := s.requireSession(c, req.SessionToken); !ok {
		return nil
	}
	return s.send(c, KindRoomsList, map[string]any{"rooms": s.rooms.List()})
}

func (s *Server) handleJoinRoom(c *Conn, env Envelope) error {
	var req joinRoomRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindJoinError, CodeInvalidData, "session_token and room_id required")
	}
	sess, ok := s.requireSession(c, req.SessionToken)
	if !ok {
		return nil
	}
	name, members, ok := s.rooms.Join(c, sess.Username, req.RoomID)
	if !ok {
		return s.sendError(c, KindJoinError, CodeRoomNotFound, "room not found")
	}
	s.events.Publish(Event{Kind: "user_joined", Room: req.RoomID, Username: sess.Username})
	return s.send(c, KindJoinSuccess, map[string]any{
		"room_id":   req.RoomID,
		"room_name": name,
		"members":   members,
	})
}

func (s *Server) handleSendMessage(c *Conn, env Envelope) error {
	var req sendMessageRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindError, CodeInvalidData, "session_token and message required")
	}
	sess, ok := s.requireSession(c, req.SessionToken)
	if !ok {
		return nil
	}
	state, ok := s.registry.Get(c)
	if !ok || state.Room == "" {
		return s.sendError(c, KindError, CodeNotInRoom, "join a room first")
	}

	// The sender receives its own message back; delivery order as confirmed
	// by the server is the order everyone sees.
	s.rooms.Broadcast(state.Room, mustEnvelope(KindMessage, map[string]string{
		"username": sess.Username,
		"message":  req.Message,
		"room_id":  state.Room,
	}), nil)
	s.metrics.IncMessage()
	s.events.Publish(Event{Kind: "message", Room: state.Room, Username: sess.Username})
	return nil
}

// leaveRoom runs the room-leave side effects for a connection, if it is in
// a room. Used on logout, re-login and connection teardown.
func (s *Server) leaveRoom(c *Conn) {
	state, ok := s.registry.Get(c)
	if !ok || state.Username == "" {
		return
	}
	if roomID := s.rooms.Leave(c, state.Username); roomID != "" {
		s.events.Publish(Event{Kind: "user_left", Room: roomID, Username: state.Username})
	}
}
