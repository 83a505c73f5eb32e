// Package relay implements the rendezvous server for the peer transport:
// it groups websocket connections into rooms and fans every message out to
// the other peers of the room. It never inspects or stores document
// updates; all session state lives in the participants' replicas.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"peerprep-collab/internal/domain"
	"peerprep-collab/internal/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type PeerMessage struct {
	Peer    *Peer
	Message []byte
}

type Hub struct {
	nodeID string

	roomsMutex sync.RWMutex
	rooms      map[string]*room

	Register   chan *Peer
	Unregister chan *Peer
	Forward    chan *PeerMessage

	maxPeersPerRoom int
	maxMessageSize  int64
	writeWait       time.Duration
	pongWait        time.Duration
	pingPeriod      time.Duration

	// rdb enables cross-node fan-out: every relayed message is also
	// published to the room's channel so peers connected to another node
	// receive it. Nil for single-node deployments.
	rdb *redis.Client
}

type room struct {
	peers  map[string]*Peer
	pubsub *redis.PubSub
}

// envelope wraps a relayed message on the redis channel so the publishing
// node can skip its own deliveries.
type envelope struct {
	Node string          `json:"node"`
	Peer string          `json:"peer"`
	Raw  json.RawMessage `json:"raw"`
}

func NewHub(maxPeersPerRoom int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration, rdb *redis.Client) *Hub {
	return &Hub{
		nodeID:          uuid.NewString(),
		rooms:           make(map[string]*room),
		Register:        make(chan *Peer),
		Unregister:      make(chan *Peer),
		Forward:         make(chan *PeerMessage),
		maxPeersPerRoom: maxPeersPerRoom,
		maxMessageSize:  maxMessageSize,
		writeWait:       writeWait,
		pongWait:        pongWait,
		pingPeriod:      pingPeriod,
		rdb:             rdb,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case peer := <-h.Register:
			h.registerPeer(peer)

		case peer := <-h.Unregister:
			h.unregisterPeer(peer)

		case msg := <-h.Forward:
			h.forward(msg.Peer, msg.Message)
		}
	}
}

func (h *Hub) registerPeer(peer *Peer) {
	h.roomsMutex.Lock()

	r, ok := h.rooms[peer.RoomID]
	if !ok {
		r = &room{peers: make(map[string]*Peer)}
		h.rooms[peer.RoomID] = r
		if h.rdb != nil {
			r.pubsub = h.rdb.Subscribe(context.Background(), roomChannel(peer.RoomID))
			go h.relayFromRedis(peer.RoomID, r.pubsub)
		}
	}

	if len(r.peers) >= h.maxPeersPerRoom {
		h.roomsMutex.Unlock()
		log.Printf("[Relay] room %s full, rejecting peer %s", peer.RoomID, peer.ID)
		close(peer.Send)
		return
	}

	existing := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		existing = append(existing, p)
	}
	r.peers[peer.ID] = peer
	h.roomsMutex.Unlock()

	log.Printf("[Relay] peer registered: %s (user: %s, room: %s)", peer.ID, peer.UserID, peer.RoomID)

	// Tell the room about the newcomer and the newcomer about the room.
	joinMsg := presenceMessage(transport.PresenceJoin, peer)
	for _, p := range existing {
		p.send(joinMsg)
		peer.send(presenceMessage(transport.PresenceJoin, p))
	}
}

func (h *Hub) unregisterPeer(peer *Peer) {
	h.roomsMutex.Lock()
	r, ok := h.rooms[peer.RoomID]
	if !ok || r.peers[peer.ID] == nil {
		h.roomsMutex.Unlock()
		return
	}
	delete(r.peers, peer.ID)
	empty := len(r.peers) == 0
	var remaining []*Peer
	for _, p := range r.peers {
		remaining = append(remaining, p)
	}
	if empty {
		if r.pubsub != nil {
			r.pubsub.Close()
		}
		delete(h.rooms, peer.RoomID)
	}
	h.roomsMutex.Unlock()

	close(peer.Send)
	log.Printf("[Relay] peer unregistered: %s (room: %s)", peer.ID, peer.RoomID)

	leaveMsg := presenceMessage(transport.PresenceLeave, peer)
	for _, p := range remaining {
		p.send(leaveMsg)
	}
}

// forward relays a peer's message to every other peer in its room, and to
// the room's redis channel when cross-node fan-out is on.
func (h *Hub) forward(from *Peer, raw []byte) {
	h.deliverLocal(from.RoomID, from.ID, raw)

	if h.rdb != nil {
		data, err := json.Marshal(envelope{Node: h.nodeID, Peer: from.ID, Raw: raw})
		if err != nil {
			return
		}
		if err := h.rdb.Publish(context.Background(), roomChannel(from.RoomID), data).Err(); err != nil {
			log.Printf("[Relay] redis publish failed: %v", err)
		}
	}
}

func (h *Hub) deliverLocal(roomID, fromPeerID string, raw []byte) {
	h.roomsMutex.RLock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.roomsMutex.RUnlock()
		return
	}
	targets := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != fromPeerID {
			targets = append(targets, p)
		}
	}
	h.roomsMutex.RUnlock()

	for _, p := range targets {
		p.send(raw)
	}
}

func (h *Hub) relayFromRedis(roomID string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("[Relay] dropping malformed redis message: %v", err)
			continue
		}
		if env.Node == h.nodeID {
			continue // already delivered locally
		}
		h.deliverLocal(roomID, env.Peer, env.Raw)
	}
}

// RoomPeers returns how many peers a room currently holds on this node.
func (h *Hub) RoomPeers(roomID string) int {
	h.roomsMutex.RLock()
	defer h.roomsMutex.RUnlock()
	if r, ok := h.rooms[roomID]; ok {
		return len(r.peers)
	}
	return 0
}

func roomChannel(roomID string) string {
	return "relay:room:" + roomID
}

func presenceMessage(kind transport.PresenceKind, peer *Peer) []byte {
	msg, err := transport.NewMessage(transport.TypePresence, transport.PresenceEvent{
		Kind: kind,
		Peer: domain.Identity{UserID: peer.UserID, DisplayName: peer.Name, ColorTag: peer.Color},
	})
	if err != nil {
		return nil
	}
	bytes, _ := json.Marshal(msg)
	return bytes
}
