package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go-broadcast-relay/internal/infrastructure/logger"
)

var (
	ErrHubRunning    = errors.New("hub is already running")
	ErrHubNotRunning = errors.New("hub is not running")
)

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration // zero disables the fan-out write deadline
	Metrics      *Metrics
}

// Hub owns the registry of live peers and relays every payload to all peers
// except its sender. All registry access happens on the single run goroutine,
// which consumes events strictly in arrival order.
type Hub struct {
	// registry is touched only by run and the functions it calls.
	registry map[PeerID]*Handle

	running    bool
	terminated bool
	runningMu  sync.RWMutex

	stopRequested atomic.Bool
	peerCount     atomic.Int64

	logger       logger.Logger
	metrics      *Metrics
	writeTimeout time.Duration

	events  chan Event
	queries chan chan []PeerID
	sender  *Sender

	done    chan struct{} // closed when the hub stops consuming events
	stopped chan struct{} // closed once run has returned

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Hub. Events can be queued before Start, up to cfg.QueueSize.
func New(log logger.Logger, cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}

	h := &Hub{
		registry:     make(map[PeerID]*Handle),
		logger:       log.WithField("component", "hub"),
		metrics:      cfg.Metrics,
		writeTimeout: cfg.WriteTimeout,
		events:       make(chan Event, cfg.QueueSize),
		queries:      make(chan chan []PeerID),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	h.sender = newSender(h.events, h.done, h.metrics)
	return h
}

// Start launches the hub loop. A terminated hub cannot be started again.
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return ErrHubRunning
	}
	if h.terminated {
		return fmt.Errorf("hub cannot be restarted: %w", ErrHubTerminated)
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	go h.run()

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop terminates the hub and waits for its loop to exit.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	if !h.running {
		h.runningMu.Unlock()
		return nil
	}
	h.stopRequested.Store(true)
	h.cancel()
	h.runningMu.Unlock()

	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for hub to stop: %w", ctx.Err())
	}
}

// IsRunning returns true if the hub is currently consuming events
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// Done is closed once the hub has terminated.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Sender returns the producer end of the event channel shared by all Workers.
func (h *Hub) Sender() *Sender {
	return h.sender
}

// Metrics returns the collectors the hub reports to.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// ConnectionCount returns the registry size as last published by the hub loop.
func (h *Hub) ConnectionCount() int {
	return int(h.peerCount.Load())
}

// Peers returns the registered peer ids, read on the hub loop.
func (h *Hub) Peers(ctx context.Context) ([]PeerID, error) {
	h.runningMu.RLock()
	running, terminated := h.running, h.terminated
	h.runningMu.RUnlock()

	if terminated {
		return nil, ErrHubTerminated
	}
	if !running {
		return nil, ErrHubNotRunning
	}

	reply := make(chan []PeerID, 1)

	select {
	case h.queries <- reply:
	case <-h.done:
		return nil, ErrHubTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case peers := <-reply:
		return peers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the only goroutine that reads or mutates the registry.
func (h *Hub) run() {
	defer close(h.stopped)

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)

		case reply := <-h.queries:
			reply <- h.snapshot()

		case <-h.ctx.Done():
			h.terminate()
			return
		}
	}
}

func (h *Hub) handle(ev Event) {
	switch ev.Kind {
	case EventConnected:
		h.handleConnected(ev)
	case EventDisconnected:
		h.handleDisconnected(ev)
	case EventDataReceived:
		h.handleData(ev)
	default:
		h.logger.Warnf("Ignoring %s from %s", ev.Kind, ev.Peer)
	}
}

// handleConnected takes over the reference carried by the event. A handle
// already registered under the same id is replaced.
func (h *Hub) handleConnected(ev Event) {
	if old, exists := h.registry[ev.Peer]; exists {
		if old != ev.Conn {
			h.logger.Warnf("Replacing registered connection for %s", ev.Peer)
		}
		h.release(ev.Peer, old)
	}

	h.registry[ev.Peer] = ev.Conn
	h.publishCount()

	h.logger.WithFields(logger.Fields{
		"peer":    ev.Peer,
		"session": ev.Conn.Session(),
	}).Infof("Client connected: %s", ev.Peer)
}

func (h *Hub) handleDisconnected(ev Event) {
	conn, exists := h.registry[ev.Peer]
	if !exists {
		h.logger.Debugf("Ignoring disconnect for unregistered peer %s", ev.Peer)
		return
	}

	delete(h.registry, ev.Peer)
	h.publishCount()
	h.release(ev.Peer, conn)

	h.logger.WithFields(logger.Fields{
		"peer":    ev.Peer,
		"session": conn.Session(),
	}).Infof("Client disconnected: %s", ev.Peer)
}

// handleData fans the payload out to every registered peer except the
// sender. A failed write is logged and skipped; the peer stays registered
// until its own Worker reports the disconnect. A peer whose write timed out
// is stalled and receives nothing more, so it costs the hub one timeout at most.
func (h *Hub) handleData(ev Event) {
	for id, conn := range h.registry {
		if id == ev.Peer {
			continue
		}
		if conn.Stalled() {
			h.metrics.SkippedWrites.Inc()
			continue
		}

		if err := conn.WriteFull(ev.Payload, h.writeTimeout); err != nil {
			h.metrics.WriteErrors.Inc()
			log := h.logger.WithField("peer", id)
			log.Errorf(
				"Could not write %d bytes from %s to %s: %s",
				len(ev.Payload), ev.Peer, id, logger.Redact(err),
			)
			if conn.Stalled() {
				log.Warnf("Peer %s is not draining its stream, skipping it until it disconnects", id)
			}
			continue
		}
		h.metrics.BytesRelayed.Add(float64(len(ev.Payload)))
	}
}

func (h *Hub) terminate() {
	close(h.done)

	if h.stopRequested.Load() {
		h.logger.Infof("Hub stopped with %d peers registered", len(h.registry))
	} else {
		h.logger.Errorf("Event channel closed, hub terminating with %d peers registered", len(h.registry))
	}

	for id, conn := range h.registry {
		delete(h.registry, id)
		h.release(id, conn)
	}
	h.publishCount()

	// Connected events still queued hold references nobody else will drop.
	// Once sealed, nothing more can be queued behind the drain.
	h.sender.seal()
	for drained := false; !drained; {
		select {
		case ev := <-h.events:
			if ev.Kind == EventConnected {
				h.release(ev.Peer, ev.Conn)
			}
		default:
			drained = true
		}
	}

	h.runningMu.Lock()
	h.running = false
	h.terminated = true
	h.runningMu.Unlock()
}

func (h *Hub) release(id PeerID, conn *Handle) {
	if err := conn.Release(); err != nil {
		h.logger.Warnf("Failed to close connection %s: %s", id, logger.Redact(err))
	}
}

func (h *Hub) snapshot() []PeerID {
	peers := make([]PeerID, 0, len(h.registry))
	for id := range h.registry {
		peers = append(peers, id)
	}
	return peers
}

func (h *Hub) publishCount() {
	h.peerCount.Store(int64(len(h.registry)))
	h.metrics.Peers.Set(float64(len(h.registry)))
}
