package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"peerprep-collab/internal/domain"

	"github.com/gorilla/websocket"
)

// WSDialer joins rooms on the relay server over websocket.
type WSDialer struct {
	URL        string // base ws:// or wss:// endpoint, e.g. ws://relay:8083/ws
	Token      string // signed room token, when the relay requires one
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func (d *WSDialer) Join(ctx context.Context, roomToken string, self domain.Identity) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", roomToken)
	q.Set("user_id", self.UserID)
	q.Set("name", self.DisplayName)
	q.Set("color", self.ColorTag)
	if d.Token != "" {
		q.Set("token", d.Token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	c := &wsConn{
		conn:       conn,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		writeWait:  orDefault(d.WriteWait, 10*time.Second),
		pongWait:   orDefault(d.PongWait, 60*time.Second),
		pingPeriod: orDefault(d.PingPeriod, 54*time.Second),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	mu          sync.Mutex
	onUpdate    UpdateHandler
	onPresence  PresenceHandler
	updateBuf   [][]byte
	presenceBuf []PresenceEvent

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) Broadcast(payload []byte) error {
	msg := &Message{Type: TypeUpdate, Timestamp: time.Now(), Payload: payload}
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- bytes:
		return nil
	}
}

func (c *wsConn) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	c.onUpdate = h
	buffered := c.updateBuf
	c.updateBuf = nil
	c.mu.Unlock()
	for _, p := range buffered {
		h(p)
	}
}

func (c *wsConn) OnPresence(h PresenceHandler) {
	c.mu.Lock()
	c.onPresence = h
	buffered := c.presenceBuf
	c.presenceBuf = nil
	c.mu.Unlock()
	for _, ev := range buffered {
		h(ev)
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *wsConn) readPump() {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Transport] websocket error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[Transport] dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case TypeUpdate:
			c.dispatchUpdate([]byte(msg.Payload))
		case TypePresence:
			var ev PresenceEvent
			if err := msg.UnmarshalPayload(&ev); err != nil {
				log.Printf("[Transport] dropping malformed presence: %v", err)
				continue
			}
			c.dispatchPresence(ev)
		case TypePing, TypePong:
			// keepalive only
		default:
			log.Printf("[Transport] unknown message type: %s", msg.Type)
		}
	}
}

func (c *wsConn) dispatchUpdate(payload []byte) {
	c.mu.Lock()
	h := c.onUpdate
	if h == nil {
		c.updateBuf = append(c.updateBuf, payload)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(payload)
}

func (c *wsConn) dispatchPresence(ev PresenceEvent) {
	c.mu.Lock()
	h := c.onPresence
	if h == nil {
		c.presenceBuf = append(c.presenceBuf, ev)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(ev)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case bytes := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
