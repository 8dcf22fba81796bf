package hub

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is the shared reference to one peer's stream.
//
// The Worker that owns the peer is the only reader; the Hub is the only
// writer. The stream is closed when the last reference is released.
type Handle struct {
	id      PeerID
	session string
	stream  Stream

	// stalled is set by the Hub once a write to the stream timed out or was
	// cut short. The stream's byte sequence can no longer be trusted after that.
	stalled atomic.Bool

	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewHandle wraps s with a single reference owned by the caller.
func NewHandle(s Stream) *Handle {
	h := &Handle{
		id:      PeerID(s.RemoteAddr().String()),
		session: uuid.NewString(),
		stream:  s,
	}
	h.refs.Store(1)
	return h
}

// ID returns the peer's remote address.
func (h *Handle) ID() PeerID {
	return h.id
}

// Session returns a per-connection id used to correlate log lines.
func (h *Handle) Session() string {
	return h.session
}

// Read is the Worker side of the handle.
func (h *Handle) Read(p []byte) (int, error) {
	return h.stream.Read(p)
}

// WriteFull is the Hub side of the handle. It writes all of p, giving up once
// timeout elapses when timeout is positive. A timed out or partial write marks
// the handle stalled, and a stalled handle refuses further writes with
// ErrPeerStalled.
func (h *Handle) WriteFull(p []byte, timeout time.Duration) error {
	if h.stalled.Load() {
		return ErrPeerStalled
	}

	if timeout > 0 {
		if err := h.stream.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	n, err := h.stream.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil && (n > 0 || isTimeout(err)) {
		h.stalled.Store(true)
	}
	return err
}

// Stalled reports whether a previous write left the stream unusable.
func (h *Handle) Stalled() bool {
	return h.stalled.Load()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Retain adds a reference and returns h for chaining.
func (h *Handle) Retain() *Handle {
	h.refs.Add(1)
	return h
}

// Release drops a reference. The last release closes the stream and returns
// the close error, if any.
func (h *Handle) Release() error {
	if h.refs.Add(-1) > 0 {
		return nil
	}

	h.closeOnce.Do(func() {
		h.closeErr = h.stream.Close()
	})
	return h.closeErr
}

// Refs reports the current reference count.
func (h *Handle) Refs() int {
	return int(h.refs.Load())
}
