package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Event names carried in the envelope
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventCanvasUpdate = "canvas-update"
	EventMessage      = "message"
)

// Notice types sent by the relay on the "message" event
const (
	NoticeJoined   = "joined"
	NoticeRejected = "rejected"
)

// MaxLineWidth bounds the stroke width a peer will rasterise. It is well
// past the diagonal of any practical surface.
const MaxLineWidth = 2048.0

var (
	ErrMalformedOp  = errors.New("malformed draw op")
	ErrUnknownEvent = errors.New("unknown event")
)

// The drawing tool an op was produced with
type Tool string

const (
	ToolPencil    Tool = "pencil"
	ToolEraser    Tool = "eraser"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
)

func (t Tool) Valid() bool {
	switch t {
	case ToolPencil, ToolEraser, ToolRectangle, ToolCircle:
		return true
	}
	return false
}

// IsShape reports whether the tool paints a whole shape in one op.
func (t Tool) IsShape() bool {
	return t == ToolRectangle || t == ToolCircle
}

// RGB is an opaque stroke colour.
type RGB struct {
	R, G, B uint8
}

var Black = RGB{}

// Parses "#rrggbb" or the short "#rgb" form
func ParseRGB(s string) (RGB, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// DrawOp is one incremental sample of a gesture.
//
// Pencil ops are relative to the receiver's current pen position. Eraser ops
// are absolute. Shape ops carry the shape centre in X, Y. Begin marks the
// first op of a stroke: receivers move the pen instead of drawing.
type DrawOp struct {
	RoomID    string
	Tool      Tool
	Color     RGB
	LineWidth float64
	X         float64
	Y         float64
	Begin     bool
}

type wireOp struct {
	RoomID    *string  `json:"roomId"`
	Tool      *string  `json:"tool"`
	Color     *string  `json:"color"`
	LineWidth *float64 `json:"lineWidth"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Begin     bool     `json:"begin,omitempty"`
}

func (op DrawOp) MarshalJSON() ([]byte, error) {
	tool := string(op.Tool)
	color := op.Color.String()
	return json.Marshal(wireOp{
		RoomID:    &op.RoomID,
		Tool:      &tool,
		Color:     &color,
		LineWidth: &op.LineWidth,
		X:         &op.X,
		Y:         &op.Y,
		Begin:     op.Begin,
	})
}

func (op *DrawOp) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOp, err)
	}

	if w.RoomID == nil || *w.RoomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrMalformedOp)
	}
	if w.Tool == nil {
		return fmt.Errorf("%w: missing tool", ErrMalformedOp)
	}
	tool := Tool(*w.Tool)
	if !tool.Valid() {
		return fmt.Errorf("%w: unknown tool %q", ErrMalformedOp, *w.Tool)
	}
	if w.X == nil || w.Y == nil {
		return fmt.Errorf("%w: missing coordinates", ErrMalformedOp)
	}
	if !finite(*w.X) || !finite(*w.Y) {
		return fmt.Errorf("%w: non-finite coordinates", ErrMalformedOp)
	}

	decoded := DrawOp{
		RoomID: *w.RoomID,
		Tool:   tool,
		X:      *w.X,
		Y:      *w.Y,
		Begin:  w.Begin,
	}

	// The eraser ignores colour and width, everything else needs both
	if tool != ToolEraser {
		if w.Color == nil {
			return fmt.Errorf("%w: missing color", ErrMalformedOp)
		}
		if w.LineWidth == nil || !finite(*w.LineWidth) || *w.LineWidth <= 0 {
			return fmt.Errorf("%w: missing or invalid lineWidth", ErrMalformedOp)
		}
		if *w.LineWidth > MaxLineWidth {
			return fmt.Errorf("%w: lineWidth %g exceeds %g", ErrMalformedOp, *w.LineWidth, MaxLineWidth)
		}
	}
	if w.Color != nil {
		c, err := ParseRGB(*w.Color)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedOp, err)
		}
		decoded.Color = c
	}
	if w.LineWidth != nil {
		decoded.LineWidth = *w.LineWidth
	}

	*op = decoded
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Notice is the payload of relay -> client "message" events.
type Notice struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Creator       bool   `json:"creator,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
