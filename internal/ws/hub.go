package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/inkroom/internal/bus"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/ratelimit"
	"github.com/manpreetbhatti/inkroom/internal/room"
)

// Directory resolves rooms registered through the HTTP API.
type Directory interface {
	GetRoom(id string) (*db.Room, error)
	UpdateRoomTimestamp(id string) error
}

type Config struct {
	HistoryLimit      int
	ReplayOnJoin      bool
	MessagesPerSecond float64
	MessageBurst      int
	MaxViolations     int
	SendBuffer        int
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxMessageSize    int64
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:      room.DefaultHistoryLimit,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxViolations:     1000,
		SendBuffer:        512,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        54 * time.Second,
		MaxMessageSize:    64 * 1024,
	}
}

// Hub owns room membership and fans accepted ops out to room members.
// Membership is only mutated from Run.
type Hub struct {
	directory Directory
	config    Config
	limiters  *ratelimit.Registry
	log       zerolog.Logger

	// Members by room
	rooms map[string]map[*Client]bool

	// Authority and op log by room
	roomStates map[string]*room.Room

	// Frames read from clients
	inbound chan *Inbound

	// Frames delivered by other relay instances
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	publish chan *bus.Message
	bus     bus.Bus

	stop     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

// Inbound is a parsed frame from a connected client.
type Inbound struct {
	Client   *Client
	Envelope *protocol.Envelope
	Frame    []byte
}

// Message is a frame to fan out to a room; a nil Sender means it came from another relay.
type Message struct {
	RoomID string
	Data   []byte
	Sender *Client
}

func NewHub(directory Directory) *Hub {
	return NewHubWithConfig(directory, DefaultConfig())
}

func NewHubWithConfig(directory Directory, config Config) *Hub {
	return &Hub{
		directory:  directory,
		config:     config,
		limiters:   ratelimit.NewRegistry(config.MessagesPerSecond, config.MessageBurst),
		log:        logging.L().With().Str("component", "hub").Logger(),
		rooms:      make(map[string]map[*Client]bool),
		roomStates: make(map[string]*room.Room),
		inbound:    make(chan *Inbound, 256),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *bus.Message, 1024),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) SetLogger(logger zerolog.Logger) {
	h.log = logger
}

// AttachBus subscribes to other relays and publishes accepted ops to them.
// Call before Run.
func (h *Hub) AttachBus(ctx context.Context, b bus.Bus) error {
	in, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.bus = b

	go func() {
		for msg := range in {
			select {
			case h.broadcast <- &Message{RoomID: msg.RoomID, Data: msg.Frame}:
			case <-h.stop:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case msg := <-h.publish:
				if err := b.Publish(ctx, msg.RoomID, msg.Frame); err != nil {
					h.log.Warn().Err(err).Str(logging.FieldRoomID, msg.RoomID).Msg("bus publish failed")
				}
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients()[client] = true
			h.mu.Unlock()
			h.log.Debug().
				Str(logging.FieldClientID, client.clientID).
				Str(logging.FieldParticipantID, client.participantID).
				Msg("client connected")

		case client := <-h.unregister:
			// Frames the client read before disconnecting are already queued
			h.drainInbound()
			h.dropClient(client)

		case in := <-h.inbound:
			h.handleInbound(in)

		case message := <-h.broadcast:
			h.handleRemote(message)
		}
	}
}

func (h *Hub) drainInbound() {
	for {
		select {
		case in := <-h.inbound:
			h.handleInbound(in)
		default:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.limiters.Stop()
	})
}

// Connected clients that have not joined a room yet live under the "" key
func (h *Hub) clients() map[*Client]bool {
	if _, ok := h.rooms[""]; !ok {
		h.rooms[""] = make(map[*Client]bool)
	}
	return h.rooms[""]
}

func (h *Hub) handleInbound(in *Inbound) {
	c := in.Client
	if c.closed {
		return
	}

	switch in.Envelope.Event {
	case protocol.EventJoinRoom:
		roomID, err := protocol.DecodeRoomID(in.Envelope.Data)
		if err != nil {
			h.log.Warn().Err(err).Str(logging.FieldClientID, c.clientID).Msg("invalid join-room")
			return
		}
		h.join(c, roomID)

	case protocol.EventLeaveRoom:
		roomID, err := protocol.DecodeRoomID(in.Envelope.Data)
		if err != nil {
			h.log.Warn().Err(err).Str(logging.FieldClientID, c.clientID).Msg("invalid leave-room")
			return
		}
		h.leave(c, roomID)

	case protocol.EventCanvasUpdate:
		h.handleCanvasUpdate(c, in.Envelope, in.Frame)

	default:
		// Notices only flow from the relay to clients
		h.log.Debug().Str("event", in.Envelope.Event).Str(logging.FieldClientID, c.clientID).Msg("ignored client event")
	}
}

func (h *Hub) join(c *Client, roomID string) {
	state := h.getRoomState(roomID)
	creator := state.Claim(c.participantID)

	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	c.rooms[roomID] = true
	count := len(h.rooms[roomID])
	h.mu.Unlock()

	state.Touch()
	h.touchDirectory(roomID)

	isCreator := creator == c.participantID
	h.log.Info().
		Str(logging.FieldRoomID, roomID).
		Str(logging.FieldParticipantID, c.participantID).
		Bool("creator", isCreator).
		Int("members", count).
		Msg("participant joined room")

	joined := protocol.Notice{
		Type:          protocol.NoticeJoined,
		RoomID:        roomID,
		ParticipantID: c.participantID,
		Creator:       isCreator,
	}
	if !h.config.ReplayOnJoin {
		h.notify(c, joined)
		return
	}

	// The notice travels with the replay so it still arrives first
	frame, err := protocol.Encode(protocol.EventMessage, joined)
	if err != nil {
		h.log.Error().Err(err).Msg("encode notice")
		return
	}
	c.queueReplay(append([][]byte{frame}, state.Frames()...))
}

func (h *Hub) leave(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMember(c, roomID)
}

// Callers hold h.mu
func (h *Hub) removeMember(c *Client, roomID string) {
	clients, ok := h.rooms[roomID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	delete(c.rooms, roomID)

	if len(clients) == 0 {
		delete(h.rooms, roomID)
		delete(h.roomStates, roomID)
		h.log.Info().Str(logging.FieldRoomID, roomID).Msg("room closed (empty)")
	} else {
		h.log.Info().
			Str(logging.FieldRoomID, roomID).
			Str(logging.FieldParticipantID, c.participantID).
			Int("remaining", len(clients)).
			Msg("participant left room")
	}
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	for roomID := range c.rooms {
		h.removeMember(c, roomID)
	}
	if lobby, ok := h.rooms[""]; ok {
		delete(lobby, c)
		if len(lobby) == 0 {
			delete(h.rooms, "")
		}
	}
	c.closed = true
	close(c.send)
	h.limiters.Release(c.participantID)
}

func (h *Hub) handleCanvasUpdate(c *Client, env *protocol.Envelope, frame []byte) {
	op, err := protocol.DecodeDrawOp(env.Data)
	if err != nil {
		h.log.Warn().Err(err).Str(logging.FieldClientID, c.clientID).Msg("dropped malformed op")
		return
	}

	h.mu.RLock()
	joined := c.rooms[op.RoomID]
	state := h.roomStates[op.RoomID]
	h.mu.RUnlock()

	if !joined || state == nil {
		h.reject(c, op.RoomID, "not a member of this room")
		return
	}
	if !state.IsCreator(c.participantID) {
		h.reject(c, op.RoomID, "draw authority belongs to the room creator")
		return
	}

	state.AddUpdate(op, frame)
	h.fanOut(op.RoomID, frame, c)

	if h.bus != nil {
		select {
		case h.publish <- &bus.Message{RoomID: op.RoomID, Frame: frame}:
		default:
			h.log.Warn().Str(logging.FieldRoomID, op.RoomID).Msg("bus backlog full, op not forwarded")
		}
	}
}

func (h *Hub) handleRemote(m *Message) {
	env, err := protocol.ParseEnvelope(m.Data)
	if err != nil || env.Event != protocol.EventCanvasUpdate {
		return
	}
	op, err := protocol.DecodeDrawOp(env.Data)
	if err != nil {
		return
	}
	if op.RoomID != m.RoomID && m.RoomID != "" {
		return
	}

	h.mu.RLock()
	state := h.roomStates[op.RoomID]
	h.mu.RUnlock()
	if state == nil {
		return
	}

	state.AddUpdate(op, m.Data)
	h.fanOut(op.RoomID, m.Data, m.Sender)
}

// Sends a frame to every member except the sender; members that cannot keep up are dropped
func (h *Hub) fanOut(roomID string, data []byte, sender *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != sender {
			members = append(members, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range members {
		if !client.trySend(data) {
			h.log.Warn().
				Str(logging.FieldRoomID, roomID).
				Str(logging.FieldClientID, client.clientID).
				Msg("dropping slow client")
			h.dropClient(client)
		}
	}
}

func (h *Hub) reject(c *Client, roomID, reason string) {
	h.log.Warn().
		Str(logging.FieldRoomID, roomID).
		Str(logging.FieldParticipantID, c.participantID).
		Str("reason", reason).
		Msg("rejected op")
	h.notify(c, protocol.Notice{
		Type:          protocol.NoticeRejected,
		RoomID:        roomID,
		ParticipantID: c.participantID,
		Reason:        reason,
	})
}

func (h *Hub) notify(c *Client, n protocol.Notice) {
	frame, err := protocol.Encode(protocol.EventMessage, n)
	if err != nil {
		h.log.Error().Err(err).Msg("encode notice")
		return
	}
	if !c.trySend(frame) {
		h.dropClient(c)
	}
}

// getRoomState returns the room, creating it and resolving its creator from
// the directory on first use.
func (h *Hub) getRoomState(roomID string) *room.Room {
	h.mu.Lock()
	state, ok := h.roomStates[roomID]
	if ok {
		h.mu.Unlock()
		return state
	}
	state = room.NewRoom(roomID, h.config.HistoryLimit)
	h.roomStates[roomID] = state
	h.mu.Unlock()

	if h.directory != nil {
		registered, err := h.directory.GetRoom(roomID)
		if err != nil {
			h.log.Error().Err(err).Str(logging.FieldRoomID, roomID).Msg("directory lookup failed")
		} else if registered != nil && registered.CreatorID != "" {
			state.Claim(registered.CreatorID)
		}
	}
	return state
}

func (h *Hub) touchDirectory(roomID string) {
	if h.directory == nil {
		return
	}
	if err := h.directory.UpdateRoomTimestamp(roomID); err != nil {
		h.log.Warn().Err(err).Str(logging.FieldRoomID, roomID).Msg("failed to touch room")
	}
}

// GetRoom returns the live state of a room, or nil when nobody is in it.
func (h *Hub) GetRoom(roomID string) *room.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[roomID]; !ok {
		return nil
	}
	return h.roomStates[roomID]
}

// Number of rooms with at least one member
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for id := range h.rooms {
		if id != "" {
			count++
		}
	}
	return count
}

// Number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Client]bool)
	for _, clients := range h.rooms {
		for c := range clients {
			seen[c] = true
		}
	}
	return len(seen)
}

// Member count by room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int)
	for id, clients := range h.rooms {
		if id != "" {
			active[id] = len(clients)
		}
	}
	return active
}

// RoomMembers reports how many clients are in a room.
func (h *Hub) RoomMembers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
