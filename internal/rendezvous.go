package internal

import "log"

// The rendezvous broker introduces two live sessions to each other by
// exchanging their observed endpoints. It plays no further part: whether
// the peers actually connect directly is between them.

func (s *Server) handleP2PRequest(c *Conn, env Envelope) error {
	var req p2pRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindP2PError, CodeInvalidData, "session_token and target_username required")
	}
	sess, ok := s.requireSession(c, req.SessionToken)
	if !ok {
		return nil
	}
	self, ok := s.registry.Get(c)
	if !ok || self.RemoteAddr == "" {
		return s.sendError(c, KindP2PError, CodeSelfNotFound, "your connection endpoint is unknown")
	}
	// A user may rendezvous with their own second session, but a connection
	// is never introduced to itself.
	peer, peerState, ok := s.registry.FindByUsername(req.TargetUsername, c)
	if !ok {
		return s.sendError(c, KindP2PError, CodePeerNotFound, "no connected user with that name")
	}

	log.Printf("rendezvous: %s (%s) <-> %s (%s)", sess.Username, self.RemoteAddr, req.TargetUsername, peerState.RemoteAddr)

	if err := s.send(c, KindP2PConnect, map[string]string{
		"peer_username": req.TargetUsername,
		"peer_address":  peerState.RemoteAddr,
		"role":          "initiator",
	}); err != nil {
		return err
	}
	// Symmetric directive to the target; a write failure there surfaces on
	// the target's own read loop.
	_ = s.send(peer, KindP2PConnect, map[string]string{
		"peer_username": sess.Username,
		"peer_address":  self.RemoteAddr,
		"role":          "receiver",
	})
	return nil
}
