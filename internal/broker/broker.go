// Package broker fans messages out to Server-Sent Events subscribers.
package broker

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event names written on the stream.
const (
	EventPing   = "ping"
	EventUpdate = "metrics_update"
)

const (
	DefaultQueueSize = 100
	DefaultKeepAlive = 15 * time.Second
)

// Subscription is one subscriber's bounded message queue.
type Subscription struct {
	id uint64
	ch chan string
}

// C returns the channel messages arrive on.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Broker is an in-memory pub/sub hub. Publish never blocks: a subscriber
// whose queue is full misses the message.
type Broker struct {
	logger    *zap.Logger
	queueSize int
	keepAlive time.Duration

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a broker with the given per-subscriber queue size and idle
// keepalive interval. Zero values fall back to the defaults.
func New(logger *zap.Logger, queueSize int, keepAlive time.Duration) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Broker{
		logger:    logger,
		queueSize: queueSize,
		keepAlive: keepAlive,
		subs:      make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan string, b.queueSize)}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// Publish queues msg for every current subscriber.
func (b *Broker) Publish(msg string) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats is a point-in-time view of broker counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns current counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// WriteEvent writes one SSE frame. Multi-line data is split across data
// fields.
func WriteEvent(w http.ResponseWriter, event, data string) error {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	if _, err := fmt.Fprint(w, sb.String()); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// ServeHTTP streams broker messages to one client as Server-Sent Events.
// It sends "ping: ready" first, then a metrics_update per message, and
// "ping: keepalive" after each idle interval.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.logger.Debug("sse client connected", zap.String("remote", r.RemoteAddr))
	defer b.logger.Debug("sse client disconnected", zap.String("remote", r.RemoteAddr))

	if err := WriteEvent(w, EventPing, "ready"); err != nil {
		return
	}

	timer := time.NewTimer(b.keepAlive)
	defer timer.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-sub.ch:
			if err := WriteEvent(w, EventUpdate, msg); err != nil {
				return
			}
		case <-timer.C:
			if err := WriteEvent(w, EventPing, "keepalive"); err != nil {
				return
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.keepAlive)
	}
}
