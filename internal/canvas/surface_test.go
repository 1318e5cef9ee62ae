package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

var red = protocol.RGB{R: 255}

func pencil(x, y float64, begin bool) protocol.DrawOp {
	return protocol.DrawOp{RoomID: "r", Tool: protocol.ToolPencil, Color: red, LineWidth: 2, X: x, Y: y, Begin: begin}
}

func isBlank(img *image.RGBA) bool {
	for _, b := range img.Pix {
		if b != 0 {
			return false
		}
	}
	return true
}

func TestNewSurfaceIsTransparent(t *testing.T) {
	s := New(DefaultWidth, DefaultHeight)

	if s.Bounds() != image.Rect(0, 0, 1273, 600) {
		t.Errorf("Unexpected bounds %v", s.Bounds())
	}
	if !isBlank(s.Image()) {
		t.Error("New surface should be fully transparent")
	}
}

func TestPencilDrawsSegment(t *testing.T) {
	s := New(100, 100)
	s.BeginStroke(10, 10)
	s.Apply(pencil(50, 50, false))

	c := s.Image().RGBAAt(30, 30)
	if c.A < 250 || c.R < 250 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected opaque red on the segment, got %v", c)
	}

	if c := s.Image().RGBAAt(80, 10); c.A != 0 {
		t.Errorf("Expected untouched pixel far from the segment, got %v", c)
	}
}

func TestBeginStrokeDoesNotDraw(t *testing.T) {
	s := New(64, 64)
	s.BeginStroke(10, 10)
	s.Apply(pencil(20, 20, true))
	s.EndStroke()

	if !isBlank(s.Image()) {
		t.Error("Begin ops must only move the pen")
	}
}

func TestPencilWithoutPenOnlyMoves(t *testing.T) {
	s := New(64, 64)
	s.Apply(pencil(10, 10, false))
	if !isBlank(s.Image()) {
		t.Fatal("First pencil op on a fresh surface should not draw")
	}

	s.Apply(pencil(40, 10, false))
	if c := s.Image().RGBAAt(25, 10); c.A == 0 {
		t.Error("Second pencil op should draw from the recorded pen position")
	}
}

func TestZeroLengthSegmentDrawsNothing(t *testing.T) {
	s := New(32, 32)
	s.BeginStroke(10, 10)
	s.Apply(pencil(10, 10, false))

	if !isBlank(s.Image()) {
		t.Error("Zero-length segment should leave the buffer untouched")
	}
}

func TestDeterministicReplay(t *testing.T) {
	ops := []protocol.DrawOp{
		pencil(10, 10, true),
		pencil(50, 50, false),
		pencil(90.25, 12.5, false),
		{RoomID: "r", Tool: protocol.ToolPencil, Color: protocol.RGB{G: 128, B: 255}, LineWidth: 7.5, X: 120, Y: 300},
		{RoomID: "r", Tool: protocol.ToolEraser, X: 60, Y: 40},
		pencil(200, 200, true),
		pencil(210.3, 180.7, false),
		{RoomID: "r", Tool: protocol.ToolCircle, Color: protocol.RGB{R: 10, G: 20, B: 30}, LineWidth: 1, X: 636.5, Y: 300},
		{RoomID: "r", Tool: protocol.ToolEraser, X: 636, Y: 300},
	}

	a := New(DefaultWidth, DefaultHeight)
	b := New(DefaultWidth, DefaultHeight)
	for _, op := range ops {
		a.Apply(op)
	}
	for _, op := range ops {
		b.Apply(op)
	}

	if !bytes.Equal(a.Image().Pix, b.Image().Pix) {
		t.Error("Same op sequence should produce identical buffers")
	}
}

func fillOpaque(s *Surface) {
	draw.Draw(s.Image(), s.Bounds(), image.NewUniform(color.RGBA{R: 1, G: 2, B: 3, A: 255}), image.Point{}, draw.Src)
}

func TestEraserClearsExactDisc(t *testing.T) {
	for _, width := range []float64{0, 1, 2, 40} {
		s := New(80, 60)
		fillOpaque(s)

		cx, cy := 30.3, 25.7
		s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolEraser, LineWidth: width, X: cx, Y: cy})

		for y := 0; y < 60; y++ {
			for x := 0; x < 80; x++ {
				c := s.Image().RGBAAt(x, y)
				if InEraserDisc(x, y, cx, cy) {
					if c != (color.RGBA{}) {
						t.Fatalf("lineWidth %v: pixel (%d,%d) inside disc not cleared: %v", width, x, y, c)
					}
				} else if c.A != 255 {
					t.Fatalf("lineWidth %v: pixel (%d,%d) outside disc was touched: %v", width, x, y, c)
				}
			}
		}
	}
}

func TestEraserDiscRadius(t *testing.T) {
	if !InEraserDisc(19, 9, 10, 10) {
		t.Error("Pixel at distance 9.5 should be inside the disc")
	}
	if InEraserDisc(20, 10, 10, 10) {
		t.Error("Pixel centre at distance > 10 should be outside the disc")
	}
}

func TestEraserNearEdgeStaysInBounds(t *testing.T) {
	s := New(16, 16)
	fillOpaque(s)
	s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolEraser, X: -3, Y: 17})

	if c := s.Image().RGBAAt(0, 15); c.A != 0 {
		t.Errorf("Expected corner pixel cleared, got %v", c)
	}
}

func TestEraserBreaksPath(t *testing.T) {
	s := New(64, 64)
	s.BeginStroke(5, 5)
	s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolEraser, X: 50, Y: 50})
	s.Apply(pencil(60, 5, false))

	if c := s.Image().RGBAAt(30, 5); c.A != 0 {
		t.Errorf("Pencil after eraser should start a new path, got %v", c)
	}
}

func TestShapes(t *testing.T) {
	s := New(DefaultWidth, DefaultHeight)
	cx, cy := float64(DefaultWidth)/2, float64(DefaultHeight)/2

	s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolRectangle, Color: red, LineWidth: 1, X: cx, Y: cy})
	if c := s.Image().RGBAAt(int(cx), int(cy)); c.A != 255 || c.R != 255 {
		t.Errorf("Expected filled rectangle centre, got %v", c)
	}
	if c := s.Image().RGBAAt(10, 10); c.A != 0 {
		t.Errorf("Rectangle should not reach the corner, got %v", c)
	}

	s.Clear()
	s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolCircle, Color: red, LineWidth: 1, X: cx, Y: cy})
	if c := s.Image().RGBAAt(int(cx), int(cy)+100); c.A != 255 {
		t.Errorf("Expected pixel inside the circle, got %v", c)
	}
	if c := s.Image().RGBAAt(int(cx)+160, int(cy)); c.A != 0 {
		t.Errorf("Expected pixel outside the circle, got %v", c)
	}
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	s := New(64, 64)
	snap := s.Snapshot()

	s.BeginStroke(0, 0)
	s.Apply(pencil(60, 60, false))

	if !isBlank(snap) {
		t.Error("Snapshot changed after drawing on the surface")
	}

	s.Restore(snap)
	if !isBlank(s.Image()) {
		t.Error("Restore should bring back the blank buffer")
	}

	s.Apply(pencil(10, 60, false))
	if !isBlank(snap) {
		t.Error("Restored snapshot must not alias the live buffer")
	}
}

func TestRestoreDifferentBounds(t *testing.T) {
	s := New(10, 10)
	small := image.NewRGBA(image.Rect(0, 0, 4, 4))
	small.SetRGBA(1, 1, color.RGBA{R: 9, A: 255})

	fillOpaque(s)
	s.Restore(small)

	if c := s.Image().RGBAAt(1, 1); c.R != 9 {
		t.Errorf("Expected restored pixel, got %v", c)
	}
	if c := s.Image().RGBAAt(8, 8); c.A != 0 {
		t.Errorf("Expected area outside the snapshot to be cleared, got %v", c)
	}
}

func TestExtremeOpsStayBounded(t *testing.T) {
	tests := []struct {
		name string
		op   protocol.DrawOp
	}{
		{"far above", pencil(10, -1e12, false)},
		{"far below", pencil(10, 1e12, false)},
		{"far left", pencil(-1e12, 10, false)},
		{"huge width", protocol.DrawOp{RoomID: "r", Tool: protocol.ToolPencil, Color: red, LineWidth: 1e12, X: 50, Y: 50}},
		{"shape far away", protocol.DrawOp{RoomID: "r", Tool: protocol.ToolCircle, Color: red, LineWidth: 1, X: -5e7, Y: -5e7}},
		{"eraser far away", protocol.DrawOp{RoomID: "r", Tool: protocol.ToolEraser, X: 1e300, Y: -1e300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultWidth, DefaultHeight)
			s.BeginStroke(10, 10)

			start := time.Now()
			s.Apply(tt.op)
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("Expected op to apply quickly, took %v", elapsed)
			}
		})
	}
}

func TestHugeWidthIgnored(t *testing.T) {
	s := New(100, 100)
	s.BeginStroke(10, 10)
	s.Apply(protocol.DrawOp{RoomID: "r", Tool: protocol.ToolPencil, Color: red, LineWidth: protocol.MaxLineWidth + 1, X: 50, Y: 50})

	if !isBlank(s.Image()) {
		t.Error("Stroke wider than the maximum should not draw")
	}
}

func TestOffSurfaceSegmentDrawsVisiblePart(t *testing.T) {
	s := New(100, 100)
	s.BeginStroke(50, -1e9)
	s.Apply(pencil(50, 60, false))

	for _, y := range []int{0, 30, 59} {
		if c := s.Image().RGBAAt(50, y); c.A < 250 || c.R < 250 {
			t.Errorf("Expected opaque red at (50,%d), got %v", y, c)
		}
	}
	if c := s.Image().RGBAAt(50, 70); c.A != 0 {
		t.Errorf("Expected untouched pixel past the segment end, got %v", c)
	}
	if c := s.Image().RGBAAt(80, 30); c.A != 0 {
		t.Errorf("Expected untouched pixel beside the segment, got %v", c)
	}
}

func TestClipSegment(t *testing.T) {
	tests := []struct {
		name           string
		x0, y0, x1, y1 float64
		ok             bool
		want           [4]float64
	}{
		{"inside", 1, 1, 5, 5, true, [4]float64{1, 1, 5, 5}},
		{"crosses top", 5, -11, 5, 5, true, [4]float64{5, 0, 5, 5}},
		{"crosses both", -6, 5, 26, 5, true, [4]float64{0, 5, 10, 5}},
		{"outside", 20, 20, 30, 30, false, [4]float64{}},
		{"parallel outside", -5, -1, -5, 8, false, [4]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x0, y0, x1, y1 := tt.x0, tt.y0, tt.x1, tt.y1
			ok := clipSegment(&x0, &y0, &x1, &y1, 0, 0, 10, 10)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && [4]float64{x0, y0, x1, y1} != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, [4]float64{x0, y0, x1, y1})
			}
		})
	}
}
