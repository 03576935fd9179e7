package ioconn

import (
	"fmt"
	"net"

	"github.com/protoproxy/dispatch/pkg/frame"
)

// TCP is a minimal length-prefix framer over a pair of net.Conns: one
// toward the game client, one toward the game server. It performs no key
// negotiation or encryption — those are out of scope (spec.md §1) — and
// trusts the length prefix pkg/frame defines.
type TCP struct {
	client net.Conn
	server net.Conn
}

// NewTCP wraps an already-dialed client and server connection.
func NewTCP(client, server net.Conn) *TCP {
	return &TCP{client: client, server: server}
}

// SendServer implements Connection.
func (t *TCP) SendServer(f []byte) error {
	return writeFrame(t.server, f)
}

// SendClient implements Connection.
func (t *TCP) SendClient(f []byte) error {
	return writeFrame(t.client, f)
}

func writeFrame(conn net.Conn, f []byte) error {
	n, err := conn.Write(f)
	if err != nil {
		return fmt.Errorf("ioconn: writing frame: %w", err)
	}
	if n != len(f) {
		return fmt.Errorf("ioconn: short write: wrote %d of %d bytes", n, len(f))
	}
	return nil
}

// ReadFrame reads one complete length-prefixed frame from conn, per
// pkg/frame's header layout.
func ReadFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, frame.HeaderSize)
	if _, err := readFull(conn, header); err != nil {
		return nil, fmt.Errorf("ioconn: reading frame header: %w", err)
	}

	length := frame.ReadLength(header)
	if length < frame.HeaderSize {
		return nil, fmt.Errorf("ioconn: frame length %d is shorter than the header", length)
	}

	out := make([]byte, length)
	copy(out, header)
	if _, err := readFull(conn, out[frame.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("ioconn: reading frame payload: %w", err)
	}
	return out, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
