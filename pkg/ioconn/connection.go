// Package ioconn provides the Connection contract the Dispatch Facade is
// wired against (SPEC_FULL.md §6), plus two concrete implementations: an
// in-memory Loopback for tests and example modules, and a minimal TCP
// length-prefix framer to show the facade driven by a real socket.
package ioconn

// Connection is the I/O collaborator a Dispatch is driven by. It only
// knows how to move already-framed bytes; negotiating transport-level
// encryption or keys is out of scope (spec.md §1).
type Connection interface {
	// SendServer forwards a frame toward the game server.
	SendServer(frame []byte) error
	// SendClient forwards a frame toward the connected client.
	SendClient(frame []byte) error
}
