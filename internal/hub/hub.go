// Package hub fans events out to websocket clients without ever blocking the
// publisher.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/leandrodaf/faderws/internal/wire"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

const defaultQueueSize = 16

// Sink is the outbound side of a client connection.
type Sink interface {
	// Send writes one payload. It may block; only the subscription's writer
	// goroutine calls it.
	Send(payload []byte) error
	// Close releases the connection and unblocks a pending Send.
	Close() error
}

// Options configures a Hub.
type Options struct {
	// QueueSize bounds each client's outbound queue. When full, the oldest
	// queued payload is dropped.
	QueueSize int
	// ReplayLatest primes new subscriptions with the last published payload.
	ReplayLatest bool
}

// Stats are cumulative hub counters.
type Stats struct {
	Clients   int
	Published uint64
	Delivered uint64
	Dropped   uint64
	Failed    uint64
}

// Hub owns the set of subscriptions.
type Hub struct {
	logger contracts.Logger
	enc    *wire.Encoder
	opts   Options

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	latest atomic.Pointer[[]byte]

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New returns an empty hub.
func New(logger contracts.Logger, enc *wire.Encoder, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if enc == nil {
		enc = wire.NewEncoder()
	}
	return &Hub{
		logger: logger,
		enc:    enc,
		opts:   opts,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Register takes ownership of sink and starts delivering to it.
func (h *Hub) Register(sink Sink) (*Subscription, error) {
	sub := &Subscription{
		id:    uuid.New(),
		hub:   h,
		sink:  sink,
		queue: make([][]byte, 0, h.opts.QueueSize),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, contracts.ErrHubClosed
	}
	if h.opts.ReplayLatest {
		if p := h.latest.Load(); p != nil {
			sub.offer(*p)
		}
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	go sub.write()

	h.logger.Info("client registered",
		h.logger.Field().String("client", sub.id.String()),
		h.logger.Field().Int("clients", n))
	return sub, nil
}

// Unregister removes sub and closes its sink. Unknown or already removed
// subscriptions are ignored.
func (h *Hub) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	n := len(h.subs)
	h.mu.Unlock()

	sub.close()
	if ok {
		h.logger.Info("client unregistered",
			h.logger.Field().String("client", sub.id.String()),
			h.logger.Field().Int("clients", n))
	}
}

// Publish serializes ev once and queues it for every subscription. It never
// waits on client I/O.
func (h *Hub) Publish(ev contracts.ControlValueEvent) {
	payload, err := h.enc.Encode(ev)
	if err != nil {
		h.logger.Error("cannot encode event", h.logger.Field().Error("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.latest.Store(&payload)
	h.published.Add(1)
	for _, sub := range h.subs {
		if sub.offer(payload) {
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns a snapshot of the counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:   h.Len(),
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Failed:    h.failed.Load(),
	}
}

// Close unregisters every subscription, closes their sinks and waits for the
// writers to exit. Further registrations fail with ErrHubClosed and publishes
// are ignored. Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for id, sub := range h.subs {
		subs = append(subs, sub)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	for _, sub := range subs {
		<-sub.done
	}
	h.logger.Info("broadcast hub closed", h.logger.Field().Int("clients", len(subs)))
}

// Subscription is a registered client: a bounded FIFO and the goroutine
// draining it into the sink.
type Subscription struct {
	id   uuid.UUID
	hub  *Hub
	sink Sink

	mu    sync.Mutex
	queue [][]byte

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Done is closed once the writer goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// offer appends payload, evicting the oldest entry when full. It reports
// whether an entry was evicted.
func (s *Subscription) offer(payload []byte) bool {
	s.mu.Lock()
	evicted := false
	if len(s.queue) == cap(s.queue) {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		evicted = true
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return evicted
}

func (s *Subscription) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue[len(s.queue)-1] = nil
	s.queue = s.queue[:len(s.queue)-1]
	return p, true
}

func (s *Subscription) write() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		for {
			select {
			case <-s.quit:
				return
			default:
			}

			p, ok := s.pop()
			if !ok {
				break
			}
			if err := s.sink.Send(p); err != nil {
				s.hub.failed.Add(1)
				s.hub.logger.Warn("client send failed; dropping client",
					s.hub.logger.Field().String("client", s.id.String()),
					s.hub.logger.Field().Error("error", err))
				s.hub.Unregister(s)
				return
			}
			s.hub.delivered.Add(1)
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if err := s.sink.Close(); err != nil {
			s.hub.logger.Debug("client close failed",
				s.hub.logger.Field().String("client", s.id.String()),
				s.hub.logger.Field().Error("error", err))
		}
	})
}
