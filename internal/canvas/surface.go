package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"golang.org/x/image/vector"
)

const (
	DefaultWidth  = 1273
	DefaultHeight = 600

	// Eraser ops clear a disc of this radius regardless of lineWidth
	EraserRadius = 10.0

	// Shapes are outlined with a 1 unit stroke centred on the edge
	shapeOutline = 1.0
)

// Surface owns a pixel buffer and applies draw ops to it.
//
// Application depends only on the op fields and the prior buffer state, so
// two surfaces fed the same op sequence end up with identical pixels. The
// vector rasterizer is bit-exact across architectures.
type Surface struct {
	img    *image.RGBA
	raster *vector.Rasterizer

	penX, penY float64
	hasPen     bool
}

// New creates a fully transparent surface.
func New(width, height int) *Surface {
	return &Surface{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		raster: vector.NewRasterizer(width, height),
	}
}

func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Image returns the live buffer. Callers must not keep it across ops; use
// Snapshot for a stable copy.
func (s *Surface) Image() *image.RGBA {
	return s.img
}

// Resets the pen position without drawing
func (s *Surface) BeginStroke(x, y float64) {
	s.penX, s.penY = x, y
	s.hasPen = true
}

// EndStroke leaves pixels untouched. It exists as the stroke boundary that
// history capture hangs off.
func (s *Surface) EndStroke() {}

func (s *Surface) Apply(op protocol.DrawOp) {
	switch op.Tool {
	case protocol.ToolPencil:
		s.applyPencil(op)
	case protocol.ToolEraser:
		s.erase(op.X, op.Y)
	case protocol.ToolRectangle:
		s.paintRectangle(op.X, op.Y, op.Color)
	case protocol.ToolCircle:
		s.paintCircle(op.X, op.Y, op.Color)
	}
}

func (s *Surface) applyPencil(op protocol.DrawOp) {
	// A lineTo on an empty path only moves the pen
	if op.Begin || !s.hasPen {
		s.BeginStroke(op.X, op.Y)
		return
	}

	x0, y0 := s.penX, s.penY
	s.penX, s.penY = op.X, op.Y

	if !(op.LineWidth > 0 && op.LineWidth <= protocol.MaxLineWidth) {
		return
	}
	r := op.LineWidth / 2

	dx, dy := op.X-x0, op.Y-y0
	length := math.Hypot(dx, dy)
	if length == 0 || math.IsInf(length, 0) || math.IsNaN(length) {
		return
	}
	ux, uy := dx/length, dy/length

	// Only the part of the segment within r of the surface can touch a
	// pixel, and the rasterizer walks every scanline the path spans.
	x1, y1 := op.X, op.Y
	if !s.clip(&x0, &y0, &x1, &y1, r+1) {
		return
	}
	s.fill(op.Color, func(z *vector.Rasterizer) {
		capsule(z, x0, y0, x1, y1, ux, uy, r)
	})
}

func (s *Surface) erase(cx, cy float64) {
	// Any eraser op breaks the current path
	s.hasPen = false

	if !s.overlaps(cx, cy, EraserRadius, EraserRadius) {
		return
	}
	b := s.img.Bounds()
	minX := max(b.Min.X, int(math.Floor(cx-EraserRadius)))
	maxX := min(b.Max.X-1, int(math.Ceil(cx+EraserRadius)))
	minY := max(b.Min.Y, int(math.Floor(cy-EraserRadius)))
	maxY := min(b.Max.Y-1, int(math.Ceil(cy+EraserRadius)))

	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			if InEraserDisc(px, py, cx, cy) {
				s.img.SetRGBA(px, py, color.RGBA{})
			}
		}
	}
}

// InEraserDisc reports whether the pixel at (px, py) lies inside the eraser
// disc centred at (cx, cy), measured from the pixel centre.
func InEraserDisc(px, py int, cx, cy float64) bool {
	dx := float64(px) + 0.5 - cx
	dy := float64(py) + 0.5 - cy
	return dx*dx+dy*dy <= EraserRadius*EraserRadius
}

func (s *Surface) paintRectangle(cx, cy float64, c protocol.RGB) {
	b := s.img.Bounds()
	halfW := float64(b.Dx())/4 + shapeOutline/2
	halfH := float64(b.Dy())/4 + shapeOutline/2
	if !s.overlaps(cx, cy, halfW, halfH) {
		return
	}
	s.fill(c, func(z *vector.Rasterizer) {
		z.MoveTo(f32(cx-halfW), f32(cy-halfH))
		z.LineTo(f32(cx+halfW), f32(cy-halfH))
		z.LineTo(f32(cx+halfW), f32(cy+halfH))
		z.LineTo(f32(cx-halfW), f32(cy+halfH))
		z.ClosePath()
	})
}

func (s *Surface) paintCircle(cx, cy float64, c protocol.RGB) {
	r := float64(s.img.Bounds().Dy())/4 + shapeOutline/2
	if !s.overlaps(cx, cy, r, r) {
		return
	}
	s.fill(c, func(z *vector.Rasterizer) {
		circle(z, cx, cy, r)
	})
}

// overlaps reports whether the box of half extents (hx, hy) around (cx, cy)
// intersects the surface.
func (s *Surface) overlaps(cx, cy, hx, hy float64) bool {
	b := s.img.Bounds()
	return cx+hx >= float64(b.Min.X) && cx-hx <= float64(b.Max.X) &&
		cy+hy >= float64(b.Min.Y) && cy-hy <= float64(b.Max.Y)
}

// clip trims the segment to the surface bounds grown by margin on each side
// and reports whether anything is left.
func (s *Surface) clip(x0, y0, x1, y1 *float64, margin float64) bool {
	b := s.img.Bounds()
	return clipSegment(x0, y0, x1, y1,
		float64(b.Min.X)-margin, float64(b.Min.Y)-margin,
		float64(b.Max.X)+margin, float64(b.Max.Y)+margin)
}

func (s *Surface) fill(c protocol.RGB, build func(z *vector.Rasterizer)) {
	b := s.img.Bounds()
	s.raster.Reset(b.Dx(), b.Dy())
	build(s.raster)
	src := image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
	s.raster.Draw(s.img, b, src, image.Point{})
}

// Snapshot returns a deep copy of the buffer.
func (s *Surface) Snapshot() *image.RGBA {
	cp := image.NewRGBA(s.img.Bounds())
	copy(cp.Pix, s.img.Pix)
	return cp
}

// Restore copies img into the buffer. The surface never aliases img.
func (s *Surface) Restore(img *image.RGBA) {
	if img.Bounds() == s.img.Bounds() {
		copy(s.img.Pix, img.Pix)
		return
	}
	draw.Draw(s.img, s.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	draw.Draw(s.img, s.img.Bounds(), img, img.Bounds().Min, draw.Src)
}

// Clear wipes the buffer to transparent and forgets the pen.
func (s *Surface) Clear() {
	clear(s.img.Pix)
	s.hasPen = false
}
