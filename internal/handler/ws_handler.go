package handler

import (
	"log"
	"net/http"

	"peerprep-collab/internal/relay"
	"peerprep-collab/pkg/token"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type joinRequest struct {
	Room   string `validate:"required"`
	UserID string `validate:"required"`
	Name   string `validate:"required"`
	Color  string
}

type WebSocketHandler struct {
	hub       *relay.Hub
	jwtSecret string
	validate  *validator.Validate
	upgrader  ws.Upgrader
}

// NewWebSocketHandler serves room joins. When jwtSecret is non-empty the
// matchmaking token is verified and its claims override the room and user
// query parameters; with an empty secret (ad-hoc deployments) the query
// parameters are trusted as-is.
func NewWebSocketHandler(hub *relay.Hub, jwtSecret string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		validate:  validator.New(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	req := joinRequest{
		Room:   r.URL.Query().Get("room"),
		UserID: r.URL.Query().Get("user_id"),
		Name:   r.URL.Query().Get("name"),
		Color:  r.URL.Query().Get("color"),
	}

	if h.jwtSecret != "" {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			log.Printf("[WebSocket] Missing room token")
			http.Error(w, "missing room token", http.StatusUnauthorized)
			return
		}
		claims, err := token.ValidateRoomToken(raw, h.jwtSecret)
		if err != nil {
			log.Printf("[WebSocket] Room token validation failed: %v", err)
			http.Error(w, "invalid room token", http.StatusUnauthorized)
			return
		}
		req.Room = claims.RoomID
		req.UserID = claims.UserID
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "missing join parameters", http.StatusBadRequest)
		return
	}

	log.Printf("[WebSocket] Upgrading connection for user: %s (room: %s)", req.UserID, req.Room)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	peerID := uuid.New().String()
	peer := relay.NewPeer(peerID, req.UserID, req.Name, req.Color, req.Room, conn, h.hub)

	h.hub.Register <- peer

	go peer.WritePump()
	go peer.ReadPump()
}
