// Package transport wraps raw TCP sockets with length-prefixed framing
// and serializes sends and receives independently per direction, so a
// send in progress never blocks a concurrent receive and vice versa.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// malformed or hostile length prefix exhausting memory.
const MaxFrameSize = 64 * 1024 * 1024

// Guard wraps a net.Conn with u64-length-prefixed framing. Send and
// Receive each hold their own mutex, so the two directions never
// contend with one another.
type Guard struct {
	conn net.Conn

	sendMu sync.Mutex
	recvMu sync.Mutex

	unusable bool
	mu       sync.Mutex
}

// NewGuard wraps conn in a Guard.
func NewGuard(conn net.Conn) *Guard {
	return &Guard{conn: conn}
}

// Conn returns the wrapped connection.
func (g *Guard) Conn() net.Conn {
	return g.conn
}

// SetDeadline applies t as the socket's read and write deadline, so a
// caller blocked in Send or Receive can be forced to return with a
// timeout error. A zero Time clears any deadline.
func (g *Guard) SetDeadline(t time.Time) error {
	return g.conn.SetDeadline(t)
}

// Send writes a single length-prefixed frame. Concurrent Send calls
// serialize against one another but never block Receive.
func (g *Guard) Send(payload []byte) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	if len(payload) > MaxFrameSize {
		g.markUnusable()
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(payload)))

	if _, err := g.conn.Write(header[:]); err != nil {
		g.markUnusable()
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := g.conn.Write(payload); err != nil {
			g.markUnusable()
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// Receive reads a single length-prefixed frame. Concurrent Receive
// calls serialize against one another but never block Send.
func (g *Guard) Receive() ([]byte, error) {
	g.recvMu.Lock()
	defer g.recvMu.Unlock()

	var header [8]byte
	if _, err := io.ReadFull(g.conn, header[:]); err != nil {
		g.markUnusable()
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint64(header[:])
	if length > MaxFrameSize {
		g.markUnusable()
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(g.conn, payload); err != nil {
			g.markUnusable()
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}

// Usable reports whether the guard still considers its socket good.
// Once a send or receive fails, the guard is permanently unusable.
func (g *Guard) Usable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.unusable
}

func (g *Guard) markUnusable() {
	g.mu.Lock()
	g.unusable = true
	g.mu.Unlock()
}

// Close closes the underlying connection.
func (g *Guard) Close() error {
	return g.conn.Close()
}
