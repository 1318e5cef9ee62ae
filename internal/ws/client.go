package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection to the relay.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	participantID string
	clientID      string
	rateLimiter   *ratelimit.Limiter

	// Owned by the hub goroutine
	rooms  map[string]bool
	closed bool

	// Frames to replay before the next live frame
	pendingMu sync.Mutex
	pending   [][]byte
	kick      chan struct{}

	// Closed once readPump has returned
	done chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, participantID string) *Client {
	if participantID == "" {
		participantID = uuid.New().String()
	}
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, hub.config.SendBuffer),
		participantID: participantID,
		clientID:      uuid.New().String(),
		rateLimiter:   hub.limiters.Acquire(participantID),
		rooms:         make(map[string]bool),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// ServeWs upgrades the request. The participant id comes from the
// "participant" query parameter; "room" joins a room right away.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	roomID := r.URL.Query().Get("room")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := newClient(hub, conn, participantID)
	select {
	case hub.register <- client:
	case <-hub.stop:
		conn.Close()
		return
	}

	if roomID != "" {
		frame, err := protocol.Encode(protocol.EventJoinRoom, roomID)
		if err != nil {
			hub.log.Warn().Err(err).Str(logging.FieldRoomID, roomID).Msg("failed to encode join")
			conn.Close()
			return
		}
		env, err := protocol.ParseEnvelope(frame)
		if err != nil {
			hub.log.Warn().Err(err).Str(logging.FieldRoomID, roomID).Msg("invalid join frame")
			conn.Close()
			return
		}
		select {
		case hub.inbound <- &Inbound{Client: client, Envelope: env, Frame: frame}:
		case <-hub.stop:
			conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) ParticipantID() string {
	return c.participantID
}

// Only called from the hub goroutine
func (c *Client) trySend(data []byte) bool {
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

func (c *Client) queueReplay(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	c.pendingMu.Lock()
	c.pending = append(c.pending, frames...)
	c.pendingMu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) takePending() [][]byte {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *Client) readPump() {
	cfg := c.hub.config
	log := c.hub.log.With().
		Str(logging.FieldClientID, c.clientID).
		Str(logging.FieldParticipantID, c.participantID).
		Logger()

	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		if !c.rateLimiter.Allow() {
			violations++
			if violations%100 == 1 {
				log.Warn().Int("violations", violations).Msg("rate limit exceeded")
			}
			if violations > cfg.MaxViolations {
				log.Warn().Msg("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}
		violations = 0

		env, err := protocol.ParseEnvelope(message)
		if err != nil {
			log.Warn().Err(err).Msg("invalid frame")
			continue
		}

		select {
		case c.hub.inbound <- &Inbound{Client: c, Envelope: env, Frame: message}:
		case <-c.hub.stop:
			return
		}
	}
}

func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(frame []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
		return c.conn.WriteMessage(websocket.TextMessage, frame)
	}
	flush := func() error {
		for _, frame := range c.takePending() {
			if err := write(frame); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := flush(); err != nil {
				return
			}
			if err := write(message); err != nil {
				return
			}

		case <-c.kick:
			if err := flush(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.stop:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
			return
		}
	}
}
