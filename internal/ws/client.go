package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	opTimeout      = 10 * time.Second
)

// Client messages
const (
	MsgJoinRoom        = "join_room"
	MsgLeaveRoom       = "leave_room"
	MsgJoinMatchQueue  = "join_match_queue"
	MsgLeaveMatchQueue = "leave_match_queue"
	MsgGameReady       = "game_ready"
	MsgPing            = "ping"
)

// Replies sent only to the requesting client
const (
	ReplyQueueJoined = "queue_joined"
	ReplyQueueLeft   = "queue_left"
	ReplyRoomJoined  = "room_joined"
	ReplyRoomLeft    = "room_left"
	ReplyPong        = "pong"
	ReplyError       = "error"
)

// WSMessage is a client to server frame
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

type roomJoined struct {
	Room game.RoomDetail `json:"room"`
}

// Client is one player's websocket connection
type Client struct {
	conn     *websocket.Conn
	playerID string
	send     chan []byte
	once     sync.Once
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// Handler upgrades authenticated requests and runs the connection pumps.
// Connecting marks the player online; disconnecting marks them offline and
// takes them out of the match queue with a refund.
type Handler struct {
	hub      *Hub
	st       store.Store
	bc       events.Broadcaster
	rules    game.Rules
	log      zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler builds the websocket endpoint. bc is the broadcaster game
// operations publish through; it may fan out beyond this hub.
func NewHandler(hub *Hub, st store.Store, bc events.Broadcaster, rules game.Rules, log zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		st:    st,
		bc:    bc,
		rules: rules,
		log:   log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are checked by middleware before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Serve expects the player id to be set on the gin context under playerKey.
func (h *Handler) Serve(playerKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetString(playerKey)
		if playerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing player", "code": "unauthorized"})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn().Err(err).Str("player_id", playerID).Msg("upgrade failed")
			return
		}

		client := &Client{conn: conn, playerID: playerID, send: make(chan []byte, sendBuffer)}
		h.hub.attach(client)

		ctx := h.log.WithContext(context.Background())
		if err := game.Connect(ctx, h.st, playerID); err != nil {
			h.log.Warn().Err(err).Str("player_id", playerID).Msg("mark online")
		}
		h.log.Info().Str("player_id", playerID).Msg("player connected")

		go client.writePump(h.log)
		go h.readPump(client)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump(log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub dropped this client; best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("player_id", c.playerID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("player_id", c.playerID).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Handler) readPump(c *Client) {
	defer h.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("player_id", c.playerID).Msg("read failed")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(c, ReplyError, gin.H{"message": "invalid message"})
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Handler) dispatch(c *Client, msg WSMessage) {
	ctx, cancel := context.WithTimeout(h.log.WithContext(context.Background()), opTimeout)
	defer cancel()

	switch msg.Type {
	case MsgJoinRoom, MsgLeaveRoom, MsgGameReady:
		var ref roomRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.RoomID == "" {
			h.reply(c, ReplyError, gin.H{"message": "roomId is required"})
			return
		}
		switch msg.Type {
		case MsgJoinRoom:
			h.joinRoom(ctx, c, ref.RoomID)
		case MsgLeaveRoom:
			h.leaveRoom(ctx, c, ref.RoomID)
		default:
			if !h.hub.Subscribed(c.playerID, ref.RoomID) {
				h.reply(c, ReplyError, gin.H{"message": "join the room first"})
				return
			}
			h.presence(ctx, c, ref.RoomID, events.PlayerReady)
		}

	case MsgJoinMatchQueue:
		res, err := game.JoinQueue(ctx, h.st, h.bc, h.rules, c.playerID, h.now())
		if err != nil {
			h.replyErr(c, err)
			return
		}
		h.reply(c, ReplyQueueJoined, res)

	case MsgLeaveMatchQueue:
		res, err := game.LeaveQueue(ctx, h.st, h.bc, h.rules, c.playerID)
		if err != nil {
			h.replyErr(c, err)
			return
		}
		h.reply(c, ReplyQueueLeft, res)

	case MsgPing:
		h.reply(c, ReplyPong, nil)

	default:
		h.reply(c, ReplyError, gin.H{"message": "unknown message type " + msg.Type})
	}
}

// joinRoom lets a seated player follow the room: the reply carries the
// roster and the room's other followers hear player_joined.
func (h *Handler) joinRoom(ctx context.Context, c *Client, roomID string) {
	detail, err := game.GetRoom(ctx, h.st, roomID, c.playerID)
	if err != nil {
		h.replyErr(c, err)
		return
	}
	if !h.hub.Subscribe(c.playerID, roomID) {
		return
	}
	h.reply(c, ReplyRoomJoined, roomJoined{Room: detail})
	h.presence(ctx, c, roomID, events.PlayerJoined)
}

func (h *Handler) leaveRoom(ctx context.Context, c *Client, roomID string) {
	following := h.hub.Subscribed(c.playerID, roomID)
	h.hub.Unsubscribe(c.playerID, roomID)
	h.reply(c, ReplyRoomLeft, roomRef{RoomID: roomID})
	if following {
		h.presence(ctx, c, roomID, events.PlayerLeft)
	}
}

// presence tells the room's followers, other than c, what c just did
func (h *Handler) presence(ctx context.Context, c *Client, roomID, kind string) {
	h.bc.Broadcast(ctx, events.ToRoom(roomID, nil).Without(c.playerID), events.Event{
		Type: kind,
		Data: events.PlayerPresencePayload{
			RoomID:   roomID,
			UserID:   c.playerID,
			Username: h.username(ctx, c.playerID),
		},
	})
}

func (h *Handler) username(ctx context.Context, playerID string) string {
	var name string
	err := h.st.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.Player(ctx, playerID)
		if err != nil {
			return err
		}
		name = p.Username
		return nil
	})
	if err != nil {
		h.log.Debug().Err(err).Str("player_id", playerID).Msg("load username")
		return playerID
	}
	return name
}

func (h *Handler) disconnect(c *Client) {
	if !h.hub.detach(c) {
		// replaced by a newer connection; that one owns presence now
		return
	}

	ctx, cancel := context.WithTimeout(h.log.WithContext(context.Background()), opTimeout)
	defer cancel()
	if err := game.Disconnect(ctx, h.st, h.bc, h.rules, c.playerID); err != nil && !errors.Is(err, game.ErrPlayerNotFound) {
		h.log.Error().Err(err).Str("player_id", c.playerID).Msg("disconnect cleanup")
	}
	h.log.Info().Str("player_id", c.playerID).Msg("player disconnected")
}

func (h *Handler) reply(c *Client, kind string, data interface{}) {
	frame, err := json.Marshal(events.Event{Type: kind, Data: data})
	if err != nil {
		return
	}
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	if h.hub.clients[c.playerID] != c {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Handler) replyErr(c *Client, err error) {
	var msg string
	switch {
	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrAlreadyQueued),
		errors.Is(err, game.ErrInActiveRoom),
		errors.Is(err, game.ErrPlayerNotFound),
		errors.Is(err, game.ErrRoomNotFound),
		errors.Is(err, game.ErrNotRoomMember):
		msg = err.Error()
	default:
		h.log.Error().Err(err).Str("player_id", c.playerID).Msg("websocket operation failed")
		msg = "internal error"
	}
	h.reply(c, ReplyError, gin.H{"message": msg})
}
