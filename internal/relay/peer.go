package relay

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one websocket connection registered in a room.
type Peer struct {
	ID     string
	UserID string
	Name   string
	Color  string
	RoomID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
}

func NewPeer(id, userID, name, color, roomID string, conn *websocket.Conn, hub *Hub) *Peer {
	return &Peer{
		ID:     id,
		UserID: userID,
		Name:   name,
		Color:  color,
		RoomID: roomID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
	}
}

func (p *Peer) send(raw []byte) {
	if raw == nil {
		return
	}
	select {
	case p.Send <- raw:
	default:
		log.Printf("[Relay] peer %s send buffer full, dropping connection", p.ID)
		// send may run on the hub loop itself, so unregister asynchronously
		go func() { p.Hub.Unregister <- p }()
	}
}

func (p *Peer) ReadPump() {
	defer func() {
		p.Hub.Unregister <- p
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(p.Hub.maxMessageSize)
	p.Conn.SetReadDeadline(time.Now().Add(p.Hub.pongWait))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(p.Hub.pongWait))
		return nil
	})

	for {
		_, message, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Relay] websocket error: %v", err)
			}
			break
		}

		p.Hub.Forward <- &PeerMessage{
			Peer:    p,
			Message: message,
		}
	}
}

func (p *Peer) WritePump() {
	ticker := time.NewTicker(p.Hub.pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(p.Hub.writeWait))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(p.Hub.writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
