package room

import (
	"image"
	"sync"
	"time"

	"github.com/manpreetbhatti/inkroom/internal/canvas"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

// DefaultHistoryLimit bounds the op log of a room
const DefaultHistoryLimit = 50000

// Update is one accepted op together with the frame it arrived in.
type Update struct {
	Op    protocol.DrawOp
	Frame []byte
}

// Relay-side state of a drawing room
type Room struct {
	ID string

	mu         sync.RWMutex
	creatorID  string
	updates    []Update
	limit      int
	truncated  bool
	lastActive time.Time
}

// Creates a room whose op log keeps at most limit updates (<= 0 means unbounded)
func NewRoom(id string, limit int) *Room {
	return &Room{
		ID:         id,
		updates:    make([]Update, 0),
		limit:      limit,
		lastActive: time.Now(),
	}
}

// Claim makes participantID the creator if nobody holds authority yet and
// returns the room's creator.
func (r *Room) Claim(participantID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creatorID == "" {
		r.creatorID = participantID
	}
	return r.creatorID
}

func (r *Room) CreatorID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creatorID
}

func (r *Room) IsCreator(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creatorID != "" && r.creatorID == participantID
}

// Stores an accepted op for late joiners and server-side export
func (r *Room) AddUpdate(op protocol.DrawOp, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updates = append(r.updates, Update{Op: op, Frame: frame})
	if r.limit > 0 && len(r.updates) > r.limit {
		drop := len(r.updates) - r.limit
		clear(r.updates[:drop])
		r.updates = r.updates[drop:]
		r.truncated = true
	}
	r.lastActive = time.Now()
}

// Returns a copy of the stored updates
func (r *Room) GetUpdates() []Update {
	r.mu.RLock()
	defer r.mu.RUnlock()
	updates := make([]Update, len(r.updates))
	copy(updates, r.updates)
	return updates
}

func (r *Room) Frames() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	frames := make([][]byte, len(r.updates))
	for i, u := range r.updates {
		frames[i] = u.Frame
	}
	return frames
}

func (r *Room) UpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.updates)
}

// Truncated reports whether old updates were discarded, so replay is partial.
func (r *Room) Truncated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.truncated
}

func (r *Room) ClearUpdates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = make([]Update, 0)
	r.truncated = false
}

func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) LastActive() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

// Render replays the op log onto a blank surface of the given size.
func (r *Room) Render(width, height int) *image.RGBA {
	s := canvas.New(width, height)
	for _, u := range r.GetUpdates() {
		s.Apply(u.Op)
	}
	return s.Image()
}
