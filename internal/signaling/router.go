package signaling

import (
	"sync"

	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/sirupsen/logrus"
)

const defaultSubscriptionBuffer = 64

// Router fans signaling messages out to channels keyed by message kind.
type Router struct {
	mu     sync.Mutex
	routes map[protocol.SignalType][]chan protocol.Signal
	closed bool
	logger *logrus.Logger
}

func NewRouter(log *logrus.Logger) *Router {
	return &Router{
		routes: make(map[protocol.SignalType][]chan protocol.Signal),
		logger: log,
	}
}

// Subscribe returns a channel receiving every message of the given kind.
// The channel is closed when the router closes.
func (r *Router) Subscribe(kind protocol.SignalType, buffer int) <-chan protocol.Signal {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	ch := make(chan protocol.Signal, buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.routes[kind] = append(r.routes[kind], ch)
	return ch
}

// Publish never blocks: a subscriber that is not keeping up loses the message.
func (r *Router) Publish(msg protocol.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	for _, ch := range r.routes[msg.Kind()] {
		select {
		case ch <- msg:
		default:
			r.logger.Warnf("Dropping %s event, subscriber is full", msg.Kind())
		}
	}
}

// Close closes every subscriber channel. Safe to call more than once.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	for kind, subs := range r.routes {
		for _, ch := range subs {
			close(ch)
		}
		delete(r.routes, kind)
	}
}
