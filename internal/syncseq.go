package internal

import (
	"context"
	"log"
	"time"
)

// handleSyncRoom pushes the scripted four-stage status sequence for the
// caller's room: Preparing, Ready, Data, Complete, in that order on this
// connection, with no acknowledgement awaited between stages.
func (s *Server) handleSyncRoom(c *Conn, env Envelope) error {
	var req sessionRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindError, CodeInvalidData, "session_token required")
	}
	if _, ok := s.requireSession(c, req.SessionToken); !ok {
		return nil
	}
	state, ok := s.registry.Get(c)
	if !ok || state.Room == "" {
		return s.sendError(c, KindError, CodeNotInRoom, "join a room first")
	}
	roomID := state.Room

	records, err := s.store.ListRoomFiles(context.Background(), roomID)
	if err != nil {
		log.Printf("sync %s: %v", roomID, err)
		return s.sendError(c, KindError, CodeStorageError, "could not read room catalogue")
	}
	members, _ := s.rooms.Members(roomID)
	var totalBytes int64
	for _, rec := range records {
		totalBytes += rec.SizeBytes
	}

	// All four stages go out under one lock hold so nothing else can land
	// between them.
	return c.sendEnvelopes(
		mustEnvelope(KindSyncPreparing, map[string]any{
			"room_id": roomID,
		}),
		mustEnvelope(KindSyncReady, map[string]any{
			"room_id":      roomID,
			"file_count":   len(records),
			"member_count": len(members),
		}),
		mustEnvelope(KindSyncData, map[string]any{
			"room_id":     roomID,
			"files":       fileDTOs(records),
			"members":     members,
			"total_bytes": totalBytes,
		}),
		mustEnvelope(KindSyncComplete, map[string]any{
			"room_id":      roomID,
			"file_count":   len(records),
			"member_count": len(members),
			"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
		}),
	)
}
