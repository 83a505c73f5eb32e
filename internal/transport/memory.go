package transport

import (
	"context"
	"sync"

	"peerprep-collab/internal/domain"
)

// MemoryRoom is an in-process transport for tests and offline runs.
// Delivery is synchronous by default; Hold switches to a queue so callers
// can pin the exact interleaving of a race, and Duplicate redelivers every
// update twice to exercise idempotence.
type MemoryRoom struct {
	mu        sync.Mutex
	conns     []*memoryConn
	held      bool
	queue     []heldDelivery
	duplicate bool
}

type heldDelivery struct {
	to      *memoryConn
	payload []byte
}

func NewMemoryRoom() *MemoryRoom {
	return &MemoryRoom{}
}

// Hold queues deliveries instead of dispatching them.
func (r *MemoryRoom) Hold() {
	r.mu.Lock()
	r.held = true
	r.mu.Unlock()
}

// Duplicate toggles double delivery of every update.
func (r *MemoryRoom) Duplicate(on bool) {
	r.mu.Lock()
	r.duplicate = on
	r.mu.Unlock()
}

// ReleaseOne dispatches the oldest held delivery; false when none remain.
func (r *MemoryRoom) ReleaseOne() bool {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return false
	}
	d := r.queue[0]
	r.queue = r.queue[1:]
	r.mu.Unlock()
	d.to.deliverUpdate(d.payload)
	return true
}

// Release dispatches all held deliveries in order and resumes synchronous
// delivery.
func (r *MemoryRoom) Release() {
	for r.ReleaseOne() {
	}
	r.mu.Lock()
	r.held = false
	r.mu.Unlock()
}

func (r *MemoryRoom) Join(ctx context.Context, roomToken string, self domain.Identity) (Conn, error) {
	c := &memoryConn{room: r, self: self}
	r.mu.Lock()
	peers := make([]*memoryConn, len(r.conns))
	copy(peers, r.conns)
	r.conns = append(r.conns, c)
	r.mu.Unlock()

	for _, p := range peers {
		p.deliverPresence(PresenceEvent{Kind: PresenceJoin, Peer: self})
		c.deliverPresence(PresenceEvent{Kind: PresenceJoin, Peer: p.self})
	}
	return c, nil
}

func (r *MemoryRoom) broadcast(from *memoryConn, payload []byte) {
	r.mu.Lock()
	held := r.held
	dup := r.duplicate
	var targets []*memoryConn
	for _, c := range r.conns {
		if c != from && !c.closed {
			targets = append(targets, c)
		}
	}
	times := 1
	if dup {
		times = 2
	}
	if held {
		for i := 0; i < times; i++ {
			for _, t := range targets {
				r.queue = append(r.queue, heldDelivery{to: t, payload: payload})
			}
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for i := 0; i < times; i++ {
		for _, t := range targets {
			t.deliverUpdate(payload)
		}
	}
}

func (r *MemoryRoom) leave(c *memoryConn) {
	r.mu.Lock()
	c.closed = true
	var peers []*memoryConn
	for _, p := range r.conns {
		if p != c && !p.closed {
			peers = append(peers, p)
		}
	}
	r.mu.Unlock()
	for _, p := range peers {
		p.deliverPresence(PresenceEvent{Kind: PresenceLeave, Peer: c.self})
	}
}

type memoryConn struct {
	room *MemoryRoom
	self domain.Identity

	mu          sync.Mutex
	closed      bool
	onUpdate    UpdateHandler
	onPresence  PresenceHandler
	updateBuf   [][]byte
	presenceBuf []PresenceEvent
}

func (c *memoryConn) Broadcast(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()
	c.room.broadcast(c, payload)
	return nil
}

func (c *memoryConn) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	c.onUpdate = h
	buffered := c.updateBuf
	c.updateBuf = nil
	c.mu.Unlock()
	for _, p := range buffered {
		h(p)
	}
}

func (c *memoryConn) OnPresence(h PresenceHandler) {
	c.mu.Lock()
	c.onPresence = h
	buffered := c.presenceBuf
	c.presenceBuf = nil
	c.mu.Unlock()
	for _, ev := range buffered {
		h(ev)
	}
}

func (c *memoryConn) Close() error {
	c.room.leave(c)
	return nil
}

func (c *memoryConn) deliverUpdate(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.onUpdate
	if h == nil {
		c.updateBuf = append(c.updateBuf, payload)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(payload)
}

func (c *memoryConn) deliverPresence(ev PresenceEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.onPresence
	if h == nil {
		c.presenceBuf = append(c.presenceBuf, ev)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(ev)
}
