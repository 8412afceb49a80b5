package internal

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"
)

// connWriteWait bounds any single outbound write so one wedged peer cannot
// stall a broadcast holding the room lock.
const connWriteWait = 10 * time.Second

type transferMode int

const (
	modeControl transferMode = iota
	modeBulkSend
	modeBulkReceive
)

// Conn wraps one accepted transport connection. The owning dispatcher
// goroutine is the only reader; writes may come from any goroutine
// (broadcasts, rendezvous directives, admin injection) and serialize
// through mu. While the connection is in a bulk mode, control frames from
// other goroutines are parked in pending and flushed when the transfer
// ends, so raw chunk bytes are never interleaved with envelopes.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader

	mu      sync.Mutex
	mode    transferMode
	pending [][]byte

	closeOnce sync.Once
}

func newConn(nc net.Conn) *Conn {
	return &Conn{
		netConn: nc,
		reader:  bufio.NewReader(nc),
	}
}

// RemoteAddr reports the peer's observed endpoint.
func (c *Conn) RemoteAddr() string {
	return c.netConn.RemoteAddr().String()
}

// sendEnvelope writes a control frame, or queues it if the connection is
// mid bulk transfer. Write errors are returned so direct responders can
// abandon a dead peer; broadcast callers ignore them and let the peer's own
// read loop discover the failure.
func (c *Conn) sendEnvelope(env Envelope) error {
	frame, err := encodeFrame(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != modeControl {
		c.pending = append(c.pending, frame)
		return nil
	}
	return c.writeLocked(frame)
}

func (c *Conn) writeLocked(frame []byte) error {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(connWriteWait))
	_, err := c.netConn.Write(frame)
	return err
}

// sendEnvelopes writes several control frames back to back under one lock
// hold, so no frame from another goroutine can land between them. Used by
// the sync sequencer, whose stages must stay contiguous.
func (c *Conn) sendEnvelopes(envs ...Envelope) error {
	frames := make([][]byte, 0, len(envs))
	for _, env := range envs {
		frame, err := encodeFrame(env)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != modeControl {
		c.pending = append(c.pending, frames...)
		return nil
	}
	for _, frame := range frames {
		if err := c.writeLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// sendEnvelopeAndBeginBulk writes the bulk handshake envelope and flips the
// connection into mode under one lock hold. A concurrent sendEnvelope can
// therefore only observe the connection before the handshake or already in
// bulk mode; no control frame can land between the handshake and the chunk
// stream. On a write error the connection stays in control mode.
func (c *Conn) sendEnvelopeAndBeginBulk(env Envelope, mode transferMode) error {
	frame, err := encodeFrame(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(frame); err != nil {
		return err
	}
	c.mode = mode
	return nil
}

// endBulk returns to control mode and flushes every envelope that queued up
// during the transfer, in arrival order.
func (c *Conn) endBulk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = modeControl
	for _, frame := range c.pending {
		if err := c.writeLocked(frame); err != nil {
			break
		}
	}
	c.pending = nil
}

// writeChunk emits one bulk frame. Only valid between
// sendEnvelopeAndBeginBulk(modeBulkSend) and endBulk on the owning goroutine.
func (c *Conn) writeChunk(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.netConn.SetWriteDeadline(time.Now().Add(connWriteWait))
	return writeChunkFrame(c.netConn, chunk)
}

// bulkReader exposes the buffered inbound stream for chunk reception.
func (c *Conn) bulkReader() io.Reader {
	return c.reader
}

// Close shuts the transport down. Safe to call from any goroutine and more
// than once; a forced disconnect uses this to make the blocked read loop
// return an error.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.netConn.Close()
	})
}
