package notify

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("posture/notify")

var (
	ErrHubClosed          = errors.New("hub closed")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

type DropPolicy int

const (
	// DropNewest discards the value being published when the queue is full.
	DropNewest DropPolicy = iota
	// DropOldest evicts the oldest queued value to make room.
	DropOldest
)

func (p DropPolicy) String() string {
	if p == DropOldest {
		return "drop_oldest"
	}
	return "drop_newest"
}

const DefaultBuffer = 16

type SubscribeOptions struct {
	Buffer int
	Policy DropPolicy
}

type SubscriberStats struct {
	ID      string `json:"id"`
	Policy  string `json:"policy"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

type Stats struct {
	Published   uint64            `json:"published"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

type subscriber[T any] struct {
	id      string
	ch      chan T
	policy  DropPolicy
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// offer never blocks. A subscriber only ever loses its own values.
func (s *subscriber[T]) offer(v T) {
	switch s.policy {
	case DropOldest:
		for i := 0; i < 2; i++ {
			select {
			case s.ch <- v:
				s.sent.Add(1)
				return
			default:
			}
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
		}
		s.dropped.Add(1)
	default:
		select {
		case s.ch <- v:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscription is one receiver's view of a hub. C is closed on Unsubscribe
// or when the hub closes.
type Subscription[T any] struct {
	ID  string
	C   <-chan T
	hub *Hub[T]
}

func (s *Subscription[T]) Close() error {
	return s.hub.Unsubscribe(s.ID)
}

// Hub fans values out to subscribers through bounded per-subscriber queues.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	published   atomic.Uint64
	closed      bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subscribers: make(map[string]*subscriber[T])}
}

func (h *Hub[T]) Subscribe(opts SubscribeOptions) (*Subscription[T], error) {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &subscriber[T]{
		id:     uuid.NewString(),
		ch:     make(chan T, opts.Buffer),
		policy: opts.Policy,
	}
	h.subscribers[sub.id] = sub
	log.Debugf("subscriber %s joined (%s, buffer %d)", sub.id, opts.Policy, opts.Buffer)
	return &Subscription[T]{ID: sub.id, C: sub.ch, hub: h}, nil
}

// Publish hands v to every subscriber without blocking and returns how many
// subscribers were offered the value.
func (h *Hub[T]) Publish(v T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	h.published.Add(1)
	for _, sub := range h.subscribers {
		sub.offer(v)
	}
	return len(h.subscribers)
}

func (h *Hub[T]) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(h.subscribers, id)
	close(sub.ch)
	log.Debugf("subscriber %s left", id)
	return nil
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub[T]) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Published: h.published.Load(), Subscribers: make([]SubscriberStats, 0, len(h.subscribers))}
	for _, sub := range h.subscribers {
		st.Subscribers = append(st.Subscribers, SubscriberStats{
			ID:      sub.id,
			Policy:  sub.policy.String(),
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
			Queued:  len(sub.ch),
		})
	}
	sort.Slice(st.Subscribers, func(i, j int) bool { return st.Subscribers[i].ID < st.Subscribers[j].ID })
	return st
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}
