package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/manpreetbhatti/inkroom/internal/canvas"
	"github.com/manpreetbhatti/inkroom/internal/channel"
	"github.com/manpreetbhatti/inkroom/internal/export"
	"github.com/manpreetbhatti/inkroom/internal/history"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

const DefaultLineWidth = 2.0

type State int

const (
	Idle State = iota
	Drawing
	Left
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	case Left:
		return "left"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	RoomID        string
	ParticipantID string

	// Fixed for the session's lifetime
	IsCreator bool

	Width, Height int

	// <= 0 keeps every snapshot
	HistoryLimit int
}

// Session binds a participant to a room. Only a creator session turns
// gestures into ops; everyone applies received ops.
//
// A Session is not safe for concurrent use. Drive it from a single
// goroutine, usually through Run.
type Session struct {
	roomID        string
	participantID string
	isCreator     bool

	surface *canvas.Surface
	history *history.Stack
	channel channel.Channel

	state     State
	tool      protocol.Tool
	color     protocol.RGB
	lineWidth float64
}

// New creates a session on a blank surface and records the blank snapshot.
// The channel must already be joined to the room.
func New(cfg Config, ch channel.Channel) *Session {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = canvas.DefaultWidth, canvas.DefaultHeight
	}

	s := &Session{
		roomID:        cfg.RoomID,
		participantID: cfg.ParticipantID,
		isCreator:     cfg.IsCreator,
		surface:       canvas.New(cfg.Width, cfg.Height),
		history:       history.New(cfg.HistoryLimit),
		channel:       ch,
		tool:          protocol.ToolPencil,
		color:         protocol.Black,
		lineWidth:     DefaultLineWidth,
	}
	s.history.Push(s.surface.Snapshot())
	return s
}

// Join subscribes ch to the room and starts a session on it.
func Join(ctx context.Context, cfg Config, ch channel.Channel) (*Session, error) {
	if err := ch.Join(ctx, cfg.RoomID); err != nil {
		return nil, fmt.Errorf("join room %s: %w", cfg.RoomID, err)
	}
	return New(cfg, ch), nil
}

func (s *Session) RoomID() string        { return s.roomID }
func (s *Session) ParticipantID() string { return s.participantID }
func (s *Session) IsCreator() bool       { return s.isCreator }
func (s *Session) State() State          { return s.state }
func (s *Session) Tool() protocol.Tool   { return s.tool }
func (s *Session) History() *history.Stack {
	return s.history
}

// Image returns the live raster.
func (s *Session) Image() *image.RGBA {
	return s.surface.Image()
}

func (s *Session) authorized() bool {
	return s.isCreator && s.state != Left
}

func (s *Session) op(x, y float64) protocol.DrawOp {
	return protocol.DrawOp{
		RoomID:    s.roomID,
		Tool:      s.tool,
		Color:     s.color,
		LineWidth: s.lineWidth,
		X:         x,
		Y:         y,
	}
}

// Local pixels change before the op is handed to the channel
func (s *Session) applyAndEmit(op protocol.DrawOp) {
	s.surface.Apply(op)
	s.channel.Emit(s.roomID, op)
}

func (s *Session) PointerDown(x, y float64) {
	if !s.authorized() || s.state == Drawing || s.tool.IsShape() {
		return
	}
	s.state = Drawing

	op := s.op(x, y)
	if s.tool == protocol.ToolPencil {
		op.Begin = true
		s.surface.BeginStroke(x, y)
		s.channel.Emit(s.roomID, op)
		return
	}
	s.applyAndEmit(op)
}

func (s *Session) PointerMove(x, y float64) {
	if !s.authorized() || s.state != Drawing {
		return
	}
	s.applyAndEmit(s.op(x, y))
}

func (s *Session) PointerUp() {
	s.endStroke()
}

func (s *Session) PointerLeave() {
	s.endStroke()
}

func (s *Session) endStroke() {
	if s.state != Drawing {
		return
	}
	s.state = Idle
	s.surface.EndStroke()
	s.history.Push(s.surface.Snapshot())
}

// DrawShape paints a centred rectangle or circle in one op and records it.
func (s *Session) DrawShape(tool protocol.Tool) {
	if !s.authorized() || s.state == Drawing || !tool.IsShape() {
		return
	}
	b := s.surface.Bounds()
	op := s.op(float64(b.Dx())/2, float64(b.Dy())/2)
	op.Tool = tool
	s.applyAndEmit(op)
	s.history.Push(s.surface.Snapshot())
}

// Receive applies an op from another participant.
func (s *Session) Receive(op protocol.DrawOp) {
	if s.state == Left || (op.RoomID != "" && op.RoomID != s.roomID) {
		return
	}
	s.surface.Apply(op)
}

// Undo restores the previous snapshot; a no-op at the bottom of the stack.
func (s *Session) Undo() bool {
	if s.state == Drawing {
		return false
	}
	snap, ok := s.history.Undo()
	if !ok {
		return false
	}
	s.surface.Restore(snap.Image)
	return true
}

// Redo is a no-op at the top of the stack.
func (s *Session) Redo() bool {
	if s.state == Drawing {
		return false
	}
	snap, ok := s.history.Redo()
	if !ok {
		return false
	}
	s.surface.Restore(snap.Image)
	return true
}

// Style changes take effect at the next stroke.

func (s *Session) SetTool(t protocol.Tool) {
	if t.Valid() && s.state != Drawing {
		s.tool = t
	}
}

func (s *Session) SetColor(c protocol.RGB) {
	if s.state != Drawing {
		s.color = c
	}
}

func (s *Session) SetLineWidth(w float64) {
	if w > 0 && w <= protocol.MaxLineWidth && s.state != Drawing {
		s.lineWidth = w
	}
}

func (s *Session) Export(w io.Writer, format export.Format, layout export.PageLayout) error {
	return export.Encode(w, s.surface.Image(), format, layout)
}

// Leave ends any stroke in progress and unsubscribes from the room.
func (s *Session) Leave() error {
	if s.state == Left {
		return nil
	}
	s.endStroke()
	s.state = Left
	return s.channel.Leave(s.roomID)
}

// Run is the session's event loop. Gestures and received ops are handled one
// at a time, so neither ever observes the other half-applied. Run returns
// when ctx ends, gestures is closed, or the channel closes, and leaves the
// room on the way out. A nil gestures channel observes only.
func (s *Session) Run(ctx context.Context, gestures <-chan Gesture) error {
	incoming := s.channel.Incoming()

	for {
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), s.Leave())

		case g, ok := <-gestures:
			if !ok {
				return s.Leave()
			}
			s.Handle(g)

		case op, ok := <-incoming:
			if !ok {
				s.endStroke()
				s.state = Left
				return channel.ErrClosed
			}
			s.Receive(op)
		}
	}
}
