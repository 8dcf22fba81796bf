package hub

import (
	"io"
	"net"
	"time"
)

// Stream is the bidirectional byte stream behind one peer. *net.TCPConn
// satisfies it.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// PeerID identifies one live peer by its transport-level remote address.
type PeerID string

func (id PeerID) String() string { return string(id) }
