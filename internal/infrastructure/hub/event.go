package hub

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrHubTerminated is returned by a Sender once the Hub has stopped
	// consuming events.
	ErrHubTerminated = errors.New("hub terminated")
	// ErrQueueFull is returned by TrySend when the event queue has no room.
	ErrQueueFull = errors.New("event queue full")
	// ErrPeerStalled is returned by Handle.WriteFull once an earlier write
	// timed out or was cut short.
	ErrPeerStalled = errors.New("peer stalled")
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventDataReceived:
		return "data"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is produced by exactly one Worker and consumed by the Hub.
type Event struct {
	Kind    EventKind
	Peer    PeerID
	Conn    *Handle
	Payload []byte // only set for EventDataReceived
}

// Connected announces conn. The event carries one reference to conn that
// becomes the Hub's once the event is processed.
func Connected(conn *Handle) Event {
	return Event{Kind: EventConnected, Peer: conn.ID(), Conn: conn}
}

func Disconnected(conn *Handle) Event {
	return Event{Kind: EventDisconnected, Peer: conn.ID(), Conn: conn}
}

func DataReceived(conn *Handle, payload []byte) Event {
	return Event{Kind: EventDataReceived, Peer: conn.ID(), Conn: conn, Payload: payload}
}

// Sender is the producer end of the Hub's event channel. It is safe for
// concurrent use by any number of Workers.
type Sender struct {
	events  chan<- Event
	done    <-chan struct{}
	metrics *Metrics

	// sending is held for reading by every send in flight. seal takes it for
	// writing, so once seal returns no event can enter the channel.
	sending sync.RWMutex
}

func newSender(events chan<- Event, done <-chan struct{}, metrics *Metrics) *Sender {
	return &Sender{events: events, done: done, metrics: metrics}
}

// Send blocks until ev is queued or the Hub has terminated.
func (s *Sender) Send(ev Event) error {
	s.sending.RLock()
	defer s.sending.RUnlock()

	select {
	case <-s.done:
		return ErrHubTerminated
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrHubTerminated
	}
}

// TrySend queues ev without blocking. A full queue or a terminated Hub drops
// the event and is reported through the returned error.
func (s *Sender) TrySend(ev Event) error {
	s.sending.RLock()
	defer s.sending.RUnlock()

	select {
	case <-s.done:
		s.metrics.DroppedEvents.WithLabelValues(dropReasonTerminated).Inc()
		return ErrHubTerminated
	default:
	}

	select {
	case s.events <- ev:
		return nil
	default:
		s.metrics.DroppedEvents.WithLabelValues(dropReasonQueueFull).Inc()
		return ErrQueueFull
	}
}

// seal waits out the sends that were already past their done check when done
// was closed. done must be closed before seal is called.
func (s *Sender) seal() {
	s.sending.Lock()
	defer s.sending.Unlock()
}
