package engine

import (
	"context"
	"sync/atomic"

	"dslink/pkg/protocol"
)

// Hub fans inbound robot frames out to subscribers. Slow subscribers miss
// frames instead of stalling the connection.
type Hub struct {
	broadcast  chan protocol.Inbound
	register   chan chan protocol.Inbound
	unregister chan chan protocol.Inbound
	clients    map[chan protocol.Inbound]struct{}
	clientBuf  int
	dropped    atomic.Uint64
}

// DefaultBroadcastBuffer is how many frames may wait for Run to fan them out.
const DefaultBroadcastBuffer = 256

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan protocol.Inbound, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan protocol.Inbound, DefaultBroadcastBuffer),
		register:   make(chan chan protocol.Inbound),
		unregister: make(chan chan protocol.Inbound),
		clients:    make(map[chan protocol.Inbound]struct{}),
		clientBuf:  100,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case in := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- in:
				default:
					h.dropped.Add(1)
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan protocol.Inbound {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan protocol.Inbound {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan protocol.Inbound, size)
	h.register <- ch
	return ch
}

func (h *Hub) Unsubscribe(ch chan protocol.Inbound) {
	h.unregister <- ch
}

// TryPublish offers in without blocking and reports whether it was queued.
func (h *Hub) TryPublish(in protocol.Inbound) bool {
	select {
	case h.broadcast <- in:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped counts frames lost to a full broadcast queue or subscriber.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
