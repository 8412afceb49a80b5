package internal

import (
	"errors"
	"fmt"
	"io"
	"log"
)

// errLogout makes the read loop exit cleanly after a LOGOUT request.
var errLogout = errors.New("client logged out")

// handleConn is the per-connection worker: it decodes one envelope at a
// time, routes it, and on exit runs teardown exactly once. Protocol-level
// failures answer with an error envelope and keep the connection; framing
// errors and I/O failures end it.
func (s *Server) handleConn(c *Conn) {
	defer s.teardown(c)

	for {
		env, err := readFrame(c.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("read from %s: %v", c.RemoteAddr(), err)
			}
			return
		}
		s.registry.Touch(c)

		if err := s.route(c, env); err != nil {
			if !errors.Is(err, errLogout) {
				log.Printf("connection %s: %v", c.RemoteAddr(), err)
			}
			return
		}
	}
}

func (s *Server) route(c *Conn, env Envelope) error {
	switch env.Type {
	case KindRegister:
		return s.handleRegister(c, env)
	case KindLogin:
		return s.handleLogin(c, env)
	case KindLogout:
		return s.handleLogout(c, env)
	case KindListRooms:
		return s.handleListRooms(c, env)
	case KindJoinRoom:
		return s.handleJoinRoom(c, env)
	case KindSendMessage:
		return s.handleSendMessage(c, env)
	case KindListRoomFiles:
		return s.handleListRoomFiles(c, env)
	case KindUploadFile:
		return s.handleUploadFile(c, env)
	case KindDownloadFile:
		return s.handleDownloadFile(c, env)
	case KindP2PRequest:
		return s.handleP2PRequest(c, env)
	case KindSyncRoom:
		return s.handleSyncRoom(c, env)
	case KindPing:
		// Ping answers regardless of auth state.
		return s.send(c, KindPong, map[string]any{})
	default:
		return s.sendError(c, KindError, CodeUnknownMessageType,
			fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

// handleLogout clears the connection's own session; the read loop then exits
// and teardown closes the transport. The payload token is not honored: a
// logout naming some other connection's session must not revoke it.
func (s *Server) handleLogout(c *Conn, _ Envelope) error {
	s.dropConnSession(c)
	return errLogout
}

// teardown runs once per connection: room-leave broadcast, session and
// presence cleanup, registry unregister, transport close.
func (s *Server) teardown(c *Conn) {
	s.dropConnSession(c)
	if state := s.registry.Unregister(c); state != nil {
		log.Printf("disconnected %s", state.RemoteAddr)
		s.events.Publish(Event{Kind: "disconnected", Detail: state.RemoteAddr, Username: state.Username})
	}
	s.metrics.DecConn()
	c.Close()
}
