package vision

import "math"

// Point is a position in pixel space.
type Point struct {
	X float64
	Y float64
}

func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Norm returns the Euclidean length of p treated as a vector.
func (p Point) Norm() float64 { return math.Hypot(p.X, p.Y) }

// Unit returns p scaled to length 1, or the zero point when p is zero.
func (p Point) Unit() Point {
	n := p.Norm()
	if n == 0 {
		return Point{}
	}
	return Point{p.X / n, p.Y / n}
}

func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }

// Rect is an axis-aligned bounding box [X1,Y1,X2,Y2].
type Rect struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

func (r Rect) Width() float64  { return r.X2 - r.X1 }
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }
func (r Rect) Area() float64   { return math.Max(0, r.Width()) * math.Max(0, r.Height()) }

func (r Rect) Center() Point {
	return Point{(r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2}
}

// BottomCenter is the ground-contact reference point of a detection.
func (r Rect) BottomCenter() Point {
	return Point{(r.X1 + r.X2) / 2, r.Y2}
}

// IoU computes standard intersection-over-union between two boxes.
func IoU(a, b Rect) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// PointInPolygon reports whether p is inside the polygon, with points on an
// edge or vertex counted as inside. Ray-casting rule.
func PointInPolygon(p Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		if onSegment(polygon[i], polygon[(i+1)%n], p) {
			return true
		}
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(a, b, p Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > 1e-9 {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-1e-9 && p.X <= math.Max(a.X, b.X)+1e-9 &&
		p.Y >= math.Min(a.Y, b.Y)-1e-9 && p.Y <= math.Max(a.Y, b.Y)+1e-9
}

// SegmentsIntersect reports whether segments p1-p2 and p3-p4 cross.
func SegmentsIntersect(p1, p2, p3, p4 Point) bool {
	return ccw(p1, p3, p4) != ccw(p2, p3, p4) && ccw(p1, p2, p3) != ccw(p1, p2, p4)
}

func ccw(a, b, c Point) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// PolygonArea returns the absolute area via the shoelace formula.
func PolygonArea(polygon []Point) float64 {
	n := len(polygon)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return math.Abs(sum) / 2
}

// CosineSimilarity of two pre-normalised vectors, clamped to [0,1].
// Mismatched lengths score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}
