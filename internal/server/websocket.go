package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bluff-master/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer     = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	presenceCutoff = 5 * time.Second
)

// message is the envelope every websocket frame carries.
type message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type client struct {
	roomID   string
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	// closed is guarded by Hub.mu.
	closed bool
}

func (c *client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) enqueueLocked(data []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Hub groups websocket clients by room and implements game.Broadcaster.
type Hub struct {
	mu      sync.Mutex
	groups  map[string]map[*client]struct{}
	players map[string]int
	log     zerolog.Logger
}

var _ game.Broadcaster = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		groups:  make(map[string]map[*client]struct{}),
		players: make(map[string]int),
		log:     log,
	}
}

// Add registers c and reports whether it is the player's first open connection.
func (h *Hub) Add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[c.roomID]
	if group == nil {
		group = make(map[*client]struct{})
		h.groups[c.roomID] = group
	}
	group[c] = struct{}{}
	h.players[c.playerID]++
	return h.players[c.playerID] == 1
}

// Remove unregisters c and reports whether it was the player's last connection.
func (h *Hub) Remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[c.roomID]
	if _, ok := group[c]; !ok {
		return false
	}
	delete(group, c)
	c.closeLocked()
	if len(group) == 0 {
		delete(h.groups, c.roomID)
	}
	h.players[c.playerID]--
	if h.players[c.playerID] > 0 {
		return false
	}
	delete(h.players, c.playerID)
	return true
}

// Publish never blocks: a client whose buffer is full misses the frame.
func (h *Hub) Publish(topic string, payload any) {
	roomID, ok := game.TopicRoomID(topic)
	if !ok {
		return
	}
	data, err := json.Marshal(message{Topic: topic, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("encode broadcast")
		return
	}
	kicked := ""
	if notice, ok := payload.(game.PresenceNotice); ok && topic == game.KickedTopic(roomID) {
		kicked = notice.PlayerID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[roomID] {
		if !c.enqueueLocked(data) {
			h.log.Warn().Str("room_id", roomID).Str("player_id", c.playerID).Str("topic", topic).Msg("client buffer full, dropping frame")
		}
		if kicked != "" && c.playerID == kicked {
			c.closeLocked()
		}
	}
}

// Send queues one frame for a single client.
func (h *Hub) Send(c *client, topic string, payload any) {
	data, err := json.Marshal(message{Topic: topic, Payload: payload})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[c.roomID][c]; ok {
		c.enqueueLocked(data)
	}
}

// Close ends every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range h.groups {
		for c := range group {
			c.closeLocked()
		}
	}
}

// Connections reports the open connections of a room.
func (h *Hub) Connections(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[roomID])
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebsocket(c *gin.Context) {
	raw := tokenFrom(c)
	playerID, roomID, err := s.tokens.Verify(raw)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "player token is required")
		return
	}
	if roomID != c.Param("roomID") {
		writeError(c, http.StatusForbidden, permissionDeniedCode, "token does not belong to this room")
		return
	}
	current, err := s.engine.PlayerRoom(c.Request.Context(), playerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if current != roomID {
		writeError(c, http.StatusForbidden, permissionDeniedCode, "player is no longer in this room")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	log := s.log.With().Str("room_id", roomID).Str("player_id", playerID).Logger()
	log.Info().Str("remote", c.Request.RemoteAddr).Msg("ws connected")

	cl := &client{roomID: roomID, playerID: playerID, conn: conn, send: make(chan []byte, sendBuffer)}
	first := s.hub.Add(cl)
	go s.writeWS(cl)
	s.greet(cl, first, log)
	go s.readWS(cl, log)
}

// greet marks a returning player online and sends the resync snapshot.
func (s *Server) greet(cl *client, first bool, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceCutoff)
	defer cancel()
	if first {
		view, err := s.engine.HandleReconnect(ctx, cl.playerID)
		if err != nil {
			log.Warn().Err(err).Msg("reconnect")
			return
		}
		s.hub.Send(cl, "sync", view)
		return
	}
	room, err := s.engine.GetRoom(ctx, cl.roomID)
	if err != nil {
		log.Warn().Err(err).Msg("load room snapshot")
		return
	}
	s.hub.Send(cl, game.RoomTopic(cl.roomID), room)
}

func (s *Server) readWS(cl *client, log zerolog.Logger) {
	defer func() {
		if s.hub.Remove(cl) {
			ctx, cancel := context.WithTimeout(context.Background(), presenceCutoff)
			defer cancel()
			if err := s.engine.HandleDisconnect(ctx, cl.playerID); err != nil {
				log.Warn().Err(err).Msg("disconnect")
			}
		}
	}()
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			log.Info().Err(err).Msg("ws disconnected")
			return
		}
	}
}

func (s *Server) writeWS(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case data, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
