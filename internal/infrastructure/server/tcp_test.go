package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-broadcast-relay/internal/infrastructure/hub"
	"go-broadcast-relay/internal/infrastructure/logger"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func quietLogger() logger.Logger {
	log := logger.NewLogrusLogger(&logger.Config{Level: logger.LevelDebug, Output: logger.OutputStdout})
	log.SetOutput(io.Discard)
	return log
}

func newTestHub(t *testing.T) *hub.Hub {
	t.Helper()

	h := hub.New(quietLogger(), hub.Config{
		QueueSize:    1024,
		WriteTimeout: time.Second,
		Metrics:      hub.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h
}

func startRelay(t *testing.T) (*hub.Hub, *TCPServer) {
	t.Helper()

	h := newTestHub(t)
	srv := NewTCPServer("127.0.0.1:0", h, quietLogger(), 64)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-served)
	})
	return h, srv
}

func dial(t *testing.T, srv *TCPServer, h *hub.Hub, wantPeers int) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.ConnectionCount() == wantPeers }, waitFor, tick)
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)

	var netErr net.Error
	require.Error(t, err)
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
	assert.Zero(t, n)
}

func peerIDs(t *testing.T, h *hub.Hub) []hub.PeerID {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	ids, err := h.Peers(ctx)
	require.NoError(t, err)
	return ids
}

func TestTCPServer_RelayScenario(t *testing.T) {
	h, srv := startRelay(t)

	a := dial(t, srv, h, 1)
	b := dial(t, srv, h, 2)
	c := dial(t, srv, h, 3)

	_, err := a.Write([]byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, "hi", readN(t, b, 2))
	assert.Equal(t, "hi", readN(t, c, 2))
	expectSilence(t, a)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return h.ConnectionCount() == 2 }, waitFor, tick)

	_, err = c.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", readN(t, a, 1))
	expectSilence(t, c)

	assert.ElementsMatch(t,
		[]hub.PeerID{hub.PeerID(a.LocalAddr().String()), hub.PeerID(c.LocalAddr().String())},
		peerIDs(t, h),
	)
}

func TestTCPServer_SinglePeer(t *testing.T) {
	h, srv := startRelay(t)

	conn := dial(t, srv, h, 1)
	assert.Equal(t, []hub.PeerID{hub.PeerID(conn.LocalAddr().String())}, peerIDs(t, h))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, waitFor, tick)
	assert.Empty(t, peerIDs(t, h))
}

func TestTCPServer_LargePayloadIsRelayedInOrder(t *testing.T) {
	h, srv := startRelay(t)

	sender := dial(t, srv, h, 1)
	receiver := dial(t, srv, h, 2)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	_, err := sender.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, string(payload), readN(t, receiver, len(payload)))
}

func TestTCPServer_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv := NewTCPServer(taken.Addr().String(), newTestHub(t), quietLogger(), 64)
	assert.Error(t, srv.Start(context.Background()))
	assert.Nil(t, srv.Addr())
}

func TestTCPServer_ServeRequiresListen(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", newTestHub(t), quietLogger(), 64)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestTCPServer_StopEndsServe(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", newTestHub(t), quietLogger(), 64)
	require.NoError(t, srv.Listen())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("serve did not return after stop")
	}
}

type tempError struct{}

func (tempError) Error() string   { return "accept: too many open files" }
func (tempError) Timeout() bool   { return false }
func (tempError) Temporary() bool { return true }

// flakyListener fails a fixed number of accepts before handing out conns.
type flakyListener struct {
	failures int
	conns    chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newFlakyListener(failures int) *flakyListener {
	return &flakyListener{
		failures: failures,
		conns:    make(chan net.Conn, 1),
		closed:   make(chan struct{}),
	}
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, tempError{}
	}

	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *flakyListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6969}
}

func TestTCPServer_AcceptErrorsAreNotFatal(t *testing.T) {
	h := newTestHub(t)
	srv := NewTCPServer("unused", h, quietLogger(), 64)
	ln := newFlakyListener(3)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.serve(ctx, ln) }()

	server, client := net.Pipe()
	ln.conns <- server

	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, waitFor, tick)
	assert.Equal(t, float64(3), testutil.ToFloat64(h.Metrics().AcceptErrors))

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, waitFor, tick)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("serve did not return after cancel")
	}
}
