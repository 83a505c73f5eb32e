// Package transport delivers replica updates and presence between the two
// participants of a room. Delivery may be dropped, reordered or duplicated;
// the document layer tolerates all three, so no implementation here needs
// exactly-once semantics.
package transport

import (
	"context"
	"errors"

	"peerprep-collab/internal/domain"
)

var ErrClosed = errors.New("transport: connection closed")

type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

type PresenceEvent struct {
	Kind PresenceKind    `json:"kind"`
	Peer domain.Identity `json:"peer"`
}

type UpdateHandler func(payload []byte)
type PresenceHandler func(ev PresenceEvent)

// Conn is one participant's connection to a room. Handlers registered
// before traffic arrives see every delivery; registering later replays
// anything buffered in between.
type Conn interface {
	Broadcast(payload []byte) error
	OnUpdate(UpdateHandler)
	OnPresence(PresenceHandler)
	Close() error
}

// Dialer joins a room. A failed join is fatal to the session; callers do
// not retry it.
type Dialer interface {
	Join(ctx context.Context, roomToken string, self domain.Identity) (Conn, error)
}
