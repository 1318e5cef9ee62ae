package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

type GestureKind string

const (
	GestureDown  GestureKind = "down"
	GestureMove  GestureKind = "move"
	GestureUp    GestureKind = "up"
	GestureLeave GestureKind = "leave"
	GestureUndo  GestureKind = "undo"
	GestureRedo  GestureKind = "redo"
	GestureTool  GestureKind = "tool"
	GestureColor GestureKind = "color"
	GestureWidth GestureKind = "width"
	GestureShape GestureKind = "shape"
)

// Gesture is one local input event.
type Gesture struct {
	Kind  GestureKind   `json:"kind"`
	X     float64       `json:"x,omitempty"`
	Y     float64       `json:"y,omitempty"`
	Tool  protocol.Tool `json:"tool,omitempty"`
	Color string        `json:"color,omitempty"`
	Width float64       `json:"width,omitempty"`
}

func (g Gesture) Validate() error {
	switch g.Kind {
	case GestureDown, GestureMove, GestureUp, GestureLeave, GestureUndo, GestureRedo:
		return nil
	case GestureTool:
		if !g.Tool.Valid() {
			return fmt.Errorf("unknown tool %q", g.Tool)
		}
	case GestureShape:
		if !g.Tool.IsShape() {
			return fmt.Errorf("%q is not a shape", g.Tool)
		}
	case GestureColor:
		if _, err := protocol.ParseRGB(g.Color); err != nil {
			return err
		}
	case GestureWidth:
		if g.Width <= 0 {
			return fmt.Errorf("line width must be positive, got %v", g.Width)
		}
	default:
		return fmt.Errorf("unknown gesture %q", g.Kind)
	}
	return nil
}

// Handle dispatches one gesture. Gestures from a participant without draw
// authority are ignored.
func (s *Session) Handle(g Gesture) error {
	if err := g.Validate(); err != nil {
		return err
	}

	switch g.Kind {
	case GestureDown:
		s.PointerDown(g.X, g.Y)
	case GestureMove:
		s.PointerMove(g.X, g.Y)
	case GestureUp:
		s.PointerUp()
	case GestureLeave:
		s.PointerLeave()
	case GestureUndo:
		s.Undo()
	case GestureRedo:
		s.Redo()
	case GestureTool:
		s.SetTool(g.Tool)
	case GestureColor:
		c, _ := protocol.ParseRGB(g.Color)
		s.SetColor(c)
	case GestureWidth:
		s.SetLineWidth(g.Width)
	case GestureShape:
		s.DrawShape(g.Tool)
	}
	return nil
}

// ParseScript reads JSON-lines gestures. Blank lines and lines starting
// with # are skipped.
func ParseScript(r io.Reader) ([]Gesture, error) {
	var gestures []Gesture

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var g Gesture
		if err := json.Unmarshal([]byte(text), &g); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		gestures = append(gestures, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return gestures, nil
}
