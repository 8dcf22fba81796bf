package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"go-broadcast-relay/internal/infrastructure/hub"
	"go-broadcast-relay/internal/infrastructure/logger"
)

// TCPServer accepts peers and starts one hub.Worker per connection. It never
// touches the registry; everything it learns goes to the hub as events.
type TCPServer struct {
	addr    string
	hub     *hub.Hub
	logger  logger.Logger
	bufSize int

	mu       sync.Mutex
	listener net.Listener
}

var _ Server = (*TCPServer)(nil)

func NewTCPServer(addr string, h *hub.Hub, log logger.Logger, readBufferSize int) *TCPServer {
	return &TCPServer{
		addr:    addr,
		hub:     h,
		logger:  log.WithField("component", "acceptor"),
		bufSize: readBufferSize,
	}
}

// Start binds the listening socket and serves until ctx is cancelled or Stop
// is called.
func (s *TCPServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Listen binds the listening socket. A bind failure is fatal to the relay.
func (s *TCPServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Errorf("Could not bind to address %s: %s", s.addr, logger.Redact(err))
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infof("Listening on: %s", ln.Addr())
	return nil
}

// Serve runs the accept loop on the socket bound by Listen.
func (s *TCPServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return errors.New("tcp server is not listening")
	}
	return s.serve(ctx, ln)
}

func (s *TCPServer) serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)

	var eg errgroup.Group
	eg.Go(func() error {
		defer cancel()
		return s.acceptLoop(ctx, ln)
	})
	eg.Go(func() error {
		<-ctx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("close listener: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

// acceptLoop hands every accepted connection to a new Worker. Accept errors
// are logged and retried after a growing delay that resets on success.
func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener) error {
	bo := newAcceptBackOff()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.hub.Metrics().AcceptErrors.Inc()
			delay := bo.NextBackOff()
			s.logger.Errorf("Could not accept connection: %s (retrying in %s)", logger.Redact(err), delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		bo.Reset()
		s.spawn(conn)
	}
}

func (s *TCPServer) spawn(conn net.Conn) {
	worker := hub.NewWorker(hub.NewHandle(conn), s.hub.Sender(), s.logger, s.bufSize)
	go func() {
		_ = worker.Run()
	}()
}

// Stop closes the listening socket. Connected peers are left to the hub.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func newAcceptBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
