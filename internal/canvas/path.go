package canvas

import "golang.org/x/image/vector"

// Cubic Bézier control distance for a quarter circle
const kappa = 0.5522847498307936

func f32(v float64) float32 { return float32(v) }

// capsule outlines a segment of half-width r with round ends. (ux, uy) is
// the unit direction from p0 to p1.
func capsule(z *vector.Rasterizer, x0, y0, x1, y1, ux, uy, r float64) {
	nx, ny := -uy*r, ux*r
	dx, dy := ux*r, uy*r
	k := kappa

	z.MoveTo(f32(x0+nx), f32(y0+ny))
	z.LineTo(f32(x1+nx), f32(y1+ny))
	// round cap at p1: +n -> +d -> -n
	z.CubeTo(f32(x1+nx+dx*k), f32(y1+ny+dy*k), f32(x1+dx+nx*k), f32(y1+dy+ny*k), f32(x1+dx), f32(y1+dy))
	z.CubeTo(f32(x1+dx-nx*k), f32(y1+dy-ny*k), f32(x1-nx+dx*k), f32(y1-ny+dy*k), f32(x1-nx), f32(y1-ny))
	z.LineTo(f32(x0-nx), f32(y0-ny))
	// round cap at p0: -n -> -d -> +n
	z.CubeTo(f32(x0-nx-dx*k), f32(y0-ny-dy*k), f32(x0-dx-nx*k), f32(y0-dy-ny*k), f32(x0-dx), f32(y0-dy))
	z.CubeTo(f32(x0-dx+nx*k), f32(y0-dy+ny*k), f32(x0+nx-dx*k), f32(y0+ny-dy*k), f32(x0+nx), f32(y0+ny))
	z.ClosePath()
}

func circle(z *vector.Rasterizer, cx, cy, r float64) {
	c := r * kappa
	z.MoveTo(f32(cx+r), f32(cy))
	z.CubeTo(f32(cx+r), f32(cy+c), f32(cx+c), f32(cy+r), f32(cx), f32(cy+r))
	z.CubeTo(f32(cx-c), f32(cy+r), f32(cx-r), f32(cy+c), f32(cx-r), f32(cy))
	z.CubeTo(f32(cx-r), f32(cy-c), f32(cx-c), f32(cy-r), f32(cx), f32(cy-r))
	z.CubeTo(f32(cx+c), f32(cy-r), f32(cx+r), f32(cy-c), f32(cx+r), f32(cy))
	z.ClosePath()
}

// clipSegment is Liang-Barsky clipping of p0->p1 against the box
// [minX,maxX]x[minY,maxY]. The endpoints are moved in place.
func clipSegment(x0, y0, x1, y1 *float64, minX, minY, maxX, maxY float64) bool {
	dx, dy := *x1-*x0, *y1-*y0
	t0, t1 := 0.0, 1.0

	edges := [4][2]float64{
		{-dx, *x0 - minX},
		{dx, maxX - *x0},
		{-dy, *y0 - minY},
		{dy, maxY - *y0},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return false
			}
			t1 = min(t1, t)
		}
	}

	sx, sy := *x0, *y0
	if t1 < 1 {
		*x1, *y1 = sx+t1*dx, sy+t1*dy
	}
	if t0 > 0 {
		*x0, *y0 = sx+t0*dx, sy+t0*dy
	}
	return true
}
