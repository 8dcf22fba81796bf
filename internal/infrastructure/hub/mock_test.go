package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go-broadcast-relay/internal/infrastructure/logger"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string)                              {}
func (m *mockLogger) Debugf(format string, args ...any)             {}
func (m *mockLogger) Info(msg string)                               {}
func (m *mockLogger) Infof(format string, args ...any)              {}
func (m *mockLogger) Warn(msg string)                               {}
func (m *mockLogger) Warnf(format string, args ...any)              {}
func (m *mockLogger) Error(msg string)                              {}
func (m *mockLogger) Errorf(format string, args ...any)             {}
func (m *mockLogger) Fatal(msg string)                              {}
func (m *mockLogger) Fatalf(format string, args ...any)             {}
func (m *mockLogger) WithField(key string, value any) logger.Logger { return m }
func (m *mockLogger) WithFields(fields logger.Fields) logger.Logger { return m }
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger { return m }
func (m *mockLogger) SetLevel(level logger.Level)                   {}
func (m *mockLogger) SetOutput(output io.Writer)                    {}

type mockAddr string

func (a mockAddr) Network() string { return "tcp" }
func (a mockAddr) String() string  { return string(a) }

var errBrokenPipe = errors.New("write: broken pipe")

// mockStream feeds reads from a channel of chunks and records writes.
type mockStream struct {
	addr    mockAddr
	reads   chan []byte
	readErr error

	mu        sync.Mutex
	written   bytes.Buffer
	failWrite bool
	closed    bool
	closes    int
}

func newMockStream(addr string) *mockStream {
	return &mockStream{
		addr:  mockAddr(addr),
		reads: make(chan []byte, 16),
	}
}

func (m *mockStream) Read(p []byte) (int, error) {
	chunk, ok := <-m.reads
	if !ok {
		if m.readErr != nil {
			return 0, m.readErr
		}
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (m *mockStream) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite || m.closed {
		return 0, errBrokenPipe
	}
	return m.written.Write(p)
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

func (m *mockStream) RemoteAddr() net.Addr               { return m.addr }
func (m *mockStream) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockStream) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *mockStream) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockStream) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *mockStream) SetFailWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

// pipeStream gives one end of a net.Pipe its own remote address, so several
// pipes can be registered side by side.
type pipeStream struct {
	net.Conn
	addr mockAddr
}

func (p pipeStream) RemoteAddr() net.Addr { return p.addr }
