package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sharehub/internal/storage"
)

// fileDTO is the listing view of one catalogue entry.
type fileDTO struct {
	Filename   string `json:"filename"`
	Uploader   string `json:"uploader"`
	SizeBytes  int64  `json:"size_bytes"`
	SHA256     string `json:"sha256,omitempty"`
	UploadedAt string `json:"uploaded_at"`
}

func fileDTOs(records []storage.FileRecord) []fileDTO {
	out := make([]fileDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, fileDTO{
			Filename:   rec.Filename,
			Uploader:   rec.Uploader,
			SizeBytes:  rec.SizeBytes,
			SHA256:     rec.SHA256,
			UploadedAt: rec.UploadedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (s *Server) handleListRoomFiles(c *Conn, env Envelope) error {
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
	records, err := s.store.ListRoomFiles(context.Background(), state.Room)
	if err != nil {
		log.Printf("list files %s: %v", state.Room, err)
		return s.sendError(c, KindError, CodeStorageError, "could not list files")
	}
	return s.send(c, KindRoomFilesList, map[string]any{
		"room_id": state.Room,
		"files":   fileDTOs(records),
	})
}

// handleUploadFile runs the whole upload exchange: UploadReady, then the
// connection flips to bulk-receive for exactly the declared byte count,
// then UploadComplete and a FileShared broadcast. A transfer that dies
// short of its declared size leaves no file and no catalogue entry.
func (s *Server) handleUploadFile(c *Conn, env Envelope) error {
	var req uploadRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindError, CodeInvalidData, "session_token, filename and size_bytes required")
	}
	sess, ok := s.requireSession(c, req.SessionToken)
	if !ok {
		return nil
	}
	state, ok := s.registry.Get(c)
	if !ok || state.Room == "" {
		return s.sendError(c, KindError, CodeNotInRoom, "join a room first")
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == ".." {
		return s.sendError(c, KindError, CodeInvalidData, "invalid filename")
	}
	if req.SizeBytes < 0 {
		return s.sendError(c, KindError, CodeInvalidData, "negative file size")
	}
	if req.SizeBytes > s.maxFileSize {
		return s.sendError(c, KindError, CodeFileTooLarge,
			fmt.Sprintf("file exceeds %d byte limit", s.maxFileSize))
	}

	fileID := uuid.NewString()
	storedName := fileID + "-" + filename
	roomDir := filepath.Join(s.uploadDir, sanitizePathComponent(state.Room))
	if err := os.MkdirAll(roomDir, 0o755); err != nil {
		log.Printf("upload mkdir %s: %v", roomDir, err)
		return s.sendError(c, KindError, CodeStorageError, "could not prepare storage")
	}
	finalPath := filepath.Join(roomDir, storedName)
	partPath := finalPath + ".part"

	dest, err := os.Create(partPath)
	if err != nil {
		log.Printf("upload create %s: %v", partPath, err)
		return s.sendError(c, KindError, CodeStorageError, "could not prepare storage")
	}

	ready, err := newEnvelope(KindUploadReady, map[string]any{
		"file_id":    fileID,
		"filename":   filename,
		"size_bytes": req.SizeBytes,
	})
	if err != nil {
		_ = dest.Close()
		_ = os.Remove(partPath)
		return err
	}

	written, sum, err := s.receiveBulk(c, ready, dest, req.SizeBytes)
	closeErr := dest.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(partPath)
		// Best effort: the peer is usually gone already.
		_ = s.sendError(c, KindError, CodeTransferIncomplete,
			fmt.Sprintf("upload ended after %d of %d bytes", written, req.SizeBytes))
		if err == nil {
			err = closeErr
		}
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return s.sendError(c, KindError, CodeStorageError, "could not store file")
	}

	rec := storage.FileRecord{
		ID:         fileID,
		RoomID:     state.Room,
		Filename:   filename,
		StoredName: storedName,
		Uploader:   sess.Username,
		SizeBytes:  req.SizeBytes,
		SHA256:     sum,
		UploadedAt: time.Now(),
	}
	if err := s.store.CreateFileRecord(context.Background(), rec); err != nil {
		_ = os.Remove(finalPath)
		log.Printf("upload record %s: %v", filename, err)
		return s.sendError(c, KindError, CodeStorageError, "could not record file")
	}

	s.metrics.IncUpload()
	log.Printf("upload complete: %s (%d bytes) by %s in %s", filename, written, sess.Username, state.Room)
	if err := s.send(c, KindUploadComplete, map[string]any{
		"file_id":    fileID,
		"filename":   filename,
		"size_bytes": written,
		"sha256":     sum,
	}); err != nil {
		return err
	}
	s.rooms.Broadcast(state.Room, mustEnvelope(KindFileShared, map[string]any{
		"filename":   filename,
		"uploader":   sess.Username,
		"size_bytes": written,
		"room_id":    state.Room,
	}), c)
	s.events.Publish(Event{Kind: "file_shared", Room: state.Room, Username: sess.Username, Detail: filename})
	return nil
}

// receiveBulk sends the ready handshake and consumes chunk frames until
// exactly total bytes arrived, hashing as it writes. The handshake and the
// flip into bulk mode are atomic. Zero-size transfers exchange no chunk
// frames and never leave control mode.
func (s *Server) receiveBulk(c *Conn, ready Envelope, dest io.Writer, total int64) (int64, string, error) {
	hasher := sha256.New()
	if total == 0 {
		if err := c.sendEnvelope(ready); err != nil {
			return 0, "", err
		}
		return 0, hex.EncodeToString(hasher.Sum(nil)), nil
	}
	w := io.MultiWriter(dest, hasher)
	if err := c.sendEnvelopeAndBeginBulk(ready, modeBulkReceive); err != nil {
		return 0, "", err
	}
	defer c.endBulk()

	var received int64
	for received < total {
		n, err := copyChunkFrame(w, c.bulkReader(), total-received)
		if err != nil {
			return received, "", err
		}
		received += n
	}
	return received, hex.EncodeToString(hasher.Sum(nil)), nil
}

// handleDownloadFile resolves the filename in the caller's room, announces
// the exact size with DownloadReady, then streams the bytes as chunk
// frames. The receiver knows it is done when the declared total arrived.
func (s *Server) handleDownloadFile(c *Conn, env Envelope) error {
	var req downloadRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindError, CodeInvalidData, "session_token and filename required")
	}
	if _, ok := s.requireSession(c, req.SessionToken); !ok {
		return nil
	}
	state, ok := s.registry.Get(c)
	if !ok || state.Room == "" {
		return s.sendError(c, KindError, CodeNotInRoom, "join a room first")
	}
	rec, err := s.store.FindRoomFile(context.Background(), state.Room, strings.TrimSpace(req.Filename))
	if err != nil {
		log.Printf("download lookup %s: %v", req.Filename, err)
		return s.sendError(c, KindError, CodeStorageError, "could not look up file")
	}
	if rec == nil {
		return s.sendError(c, KindError, CodeFileNotFound, "no such file in this room")
	}
	path := filepath.Join(s.uploadDir, sanitizePathComponent(rec.RoomID), rec.StoredName)
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.sendError(c, KindError, CodeFileNotFound, "file bytes are missing")
		}
		log.Printf("download open %s: %v", path, err)
		return s.sendError(c, KindError, CodeStorageError, "could not open file")
	}
	defer src.Close()

	ready, err := newEnvelope(KindDownloadReady, map[string]any{
		"filename":   rec.Filename,
		"size_bytes": rec.SizeBytes,
		"sha256":     rec.SHA256,
	})
	if err != nil {
		return err
	}
	if rec.SizeBytes == 0 {
		if err := c.sendEnvelope(ready); err != nil {
			return err
		}
		s.metrics.IncDownload()
		return nil
	}

	if err := c.sendEnvelopeAndBeginBulk(ready, modeBulkSend); err != nil {
		return err
	}
	defer c.endBulk()
	buf := make([]byte, chunkSize)
	var sent int64
	for sent < rec.SizeBytes {
		want := int64(len(buf))
		if rest := rec.SizeBytes - sent; rest < want {
			want = rest
		}
		n, err := io.ReadFull(src, buf[:want])
		if err != nil {
			return fmt.Errorf("download read %s: %w", rec.Filename, err)
		}
		if err := c.writeChunk(buf[:n]); err != nil {
			return fmt.Errorf("download write %s: %w", rec.Filename, err)
		}
		sent += int64(n)
	}
	s.metrics.IncDownload()
	return nil
}

// sanitizePathComponent strips path separators so a room id can never
// escape the upload directory.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
