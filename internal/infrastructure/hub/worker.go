package hub

import (
	"errors"
	"fmt"
	"io"

	"go-broadcast-relay/internal/infrastructure/logger"
)

// DefaultReadBufferSize is the read chunk size used when none is configured.
const DefaultReadBufferSize = 64

// Worker reads one peer's stream and reports what happens on it to the Hub.
// It only ever reads from its handle; writes belong to the Hub.
type Worker struct {
	conn    *Handle
	sender  *Sender
	logger  logger.Logger
	bufSize int
}

// NewWorker takes ownership of the caller's reference to conn.
func NewWorker(conn *Handle, sender *Sender, log logger.Logger, bufSize int) *Worker {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}

	fields := logger.Fields{
		"component": "worker",
		"peer":      conn.ID(),
		"session":   conn.Session(),
	}

	return &Worker{
		conn:    conn,
		sender:  sender,
		logger:  log.WithFields(fields),
		bufSize: bufSize,
	}
}

// Run announces the peer, relays its reads as events and reports the
// disconnect. It returns once the stream is closed or failed, or immediately
// with ErrHubTerminated if the Hub is gone before the peer could be announced.
func (w *Worker) Run() error {
	defer w.release()

	if err := w.sender.Send(Connected(w.conn.Retain())); err != nil {
		// the reference meant for the hub
		w.release()
		w.logger.Errorf("Could not announce connection: %v", err)
		return fmt.Errorf("announce %s: %w", w.conn.ID(), err)
	}

	buf := make([]byte, w.bufSize)
	for {
		n, err := w.conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			w.emitData(payload)
		}

		if n == 0 && err == nil {
			err = io.EOF
		}
		if err != nil {
			w.disconnect(err)
			return nil
		}
	}
}

func (w *Worker) emitData(payload []byte) {
	err := w.sender.TrySend(DataReceived(w.conn, payload))
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		w.logger.Warnf("Dropped %d bytes: %v", len(payload), err)
	default:
		w.logger.Debugf("Dropped %d bytes: %v", len(payload), err)
	}
}

func (w *Worker) disconnect(cause error) {
	if !errors.Is(cause, io.EOF) {
		w.logger.Errorf("Could not read from stream: %v", cause)
	}

	if err := w.sender.Send(Disconnected(w.conn)); err != nil {
		w.logger.Debugf("Could not report disconnect: %v", err)
	}
}

func (w *Worker) release() {
	if err := w.conn.Release(); err != nil {
		w.logger.Debugf("Close failed: %v", err)
	}
}
