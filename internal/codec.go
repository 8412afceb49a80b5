package internal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// maxControlFrame bounds a single serialized envelope. Control traffic is
	// small; bulk bytes travel in chunk frames instead.
	maxControlFrame = 1 << 20

	// chunkSize is how much a bulk sender puts in one chunk frame. Receivers
	// must accept any chunking, so this is not part of the wire contract.
	chunkSize = 32 * 1024
)

// ErrFrameTooLarge is returned when a control frame announces a body larger
// than maxControlFrame. It is a framing violation and closes the connection.
var ErrFrameTooLarge = errors.New("control frame exceeds size limit")

// ErrChunkOverrun is returned when a bulk chunk would push the transfer past
// its declared total. Also a framing violation.
var ErrChunkOverrun = errors.New("bulk chunk exceeds declared transfer size")

// writeFrame emits one control frame: 4-byte big-endian length prefix
// followed by the JSON-serialized envelope.
func writeFrame(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return writeRawFrame(w, body)
}

func writeRawFrame(w io.Writer, body []byte) error {
	if len(body) > maxControlFrame {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// encodeFrame serializes a complete control frame into a byte slice, used
// when a frame is queued rather than written immediately.
func encodeFrame(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if len(body) > maxControlFrame {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// readFrame blocks until a full control frame arrives and decodes it. A
// stream that ends cleanly between frames yields io.EOF; a stream cut mid
// frame yields io.ErrUnexpectedEOF. It never returns a partial envelope.
func readFrame(r io.Reader) (Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxControlFrame {
		return Envelope{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	return env, nil
}

// writeChunkFrame emits one bulk frame: 8-byte big-endian length prefix
// followed by exactly that many raw bytes.
func writeChunkFrame(w io.Writer, chunk []byte) error {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(chunk)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(chunk)
	return err
}

// copyChunkFrame reads one bulk frame off r and streams its body into w.
// remaining is the count of bytes the transfer may still legally carry;
// a chunk announcing more than that is rejected as ErrChunkOverrun.
func copyChunkFrame(w io.Writer, r io.Reader, remaining int64) (int64, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) && remaining > 0 {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	n := binary.BigEndian.Uint64(prefix[:])
	if n > uint64(remaining) {
		return 0, ErrChunkOverrun
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := io.CopyN(w, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return int64(n), nil
}
