package tracker

import (
	"math"
	"sort"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const centroidMoveThreshold = 20.0

// Centroid is the fallback tracker: nearest-neighbour assignment on
// box centroids with a disappearance counter per object. It serves the
// same API as the advanced tracker but without motion prediction or
// appearance matching.
type Centroid struct {
	nextID         int
	order          []int
	objects        map[int]vision.Point
	boxes          map[int]vision.Rect
	disappeared    map[int]int
	history        map[int][]vision.Point
	loiteringStart map[int]time.Time

	maxDisappeared int
	now            func() time.Time
}

func NewCentroid(maxDisappeared int) *Centroid {
	if maxDisappeared <= 0 {
		maxDisappeared = 50
	}
	return &Centroid{
		objects:        make(map[int]vision.Point),
		boxes:          make(map[int]vision.Rect),
		disappeared:    make(map[int]int),
		history:        make(map[int][]vision.Point),
		loiteringStart: make(map[int]time.Time),
		maxDisappeared: maxDisappeared,
		now:            time.Now,
	}
}

func (c *Centroid) register(centroid vision.Point, box vision.Rect) {
	id := c.nextID
	c.nextID++
	c.order = append(c.order, id)
	c.objects[id] = centroid
	c.boxes[id] = box
	c.disappeared[id] = 0
	c.history[id] = []vision.Point{centroid}
}

func (c *Centroid) deregister(id int) {
	delete(c.objects, id)
	delete(c.boxes, id)
	delete(c.disappeared, id)
	delete(c.history, id)
	delete(c.loiteringStart, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Centroid) Update(_ *vision.Frame, dets []vision.Detection) ([]Object, error) {
	if len(dets) == 0 {
		for _, id := range append([]int(nil), c.order...) {
			c.disappeared[id]++
			if c.disappeared[id] > c.maxDisappeared {
				c.deregister(id)
			}
		}
		return c.objectsOut(), nil
	}

	inputs := make([]vision.Point, len(dets))
	for i, d := range dets {
		inputs[i] = d.Box.Center()
	}

	if len(c.objects) == 0 {
		for i := range inputs {
			c.register(inputs[i], dets[i].Box)
		}
		return c.objectsOut(), nil
	}

	ids := append([]int(nil), c.order...)

	// Distance matrix object x detection; greedily take the closest
	// pairs, rows ordered by their best distance.
	dist := make([][]float64, len(ids))
	for r, id := range ids {
		dist[r] = make([]float64, len(inputs))
		for col := range inputs {
			dist[r][col] = c.objects[id].Dist(inputs[col])
		}
	}

	rows := make([]int, len(ids))
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return minOf(dist[rows[i]]) < minOf(dist[rows[j]])
	})

	usedRows := make(map[int]bool)
	usedCols := make(map[int]bool)
	for _, row := range rows {
		col := argMin(dist[row])
		if usedRows[row] || usedCols[col] {
			continue
		}
		id := ids[row]
		c.objects[id] = inputs[col]
		c.boxes[id] = dets[col].Box
		c.disappeared[id] = 0

		c.history[id] = append(c.history[id], inputs[col])
		if len(c.history[id]) > c.maxDisappeared {
			c.history[id] = c.history[id][1:]
		}

		if c.hasMoved(id) {
			delete(c.loiteringStart, id)
		} else if _, ok := c.loiteringStart[id]; !ok {
			c.loiteringStart[id] = c.now()
		}

		usedRows[row] = true
		usedCols[col] = true
	}

	if len(ids) >= len(inputs) {
		for row, id := range ids {
			if usedRows[row] {
				continue
			}
			c.disappeared[id]++
			if c.disappeared[id] > c.maxDisappeared {
				c.deregister(id)
			}
		}
	} else {
		for col := range inputs {
			if !usedCols[col] {
				c.register(inputs[col], dets[col].Box)
			}
		}
	}

	return c.objectsOut(), nil
}

// hasMoved checks the displacement between the oldest and newest point
// of a full history window. A short history counts as movement.
func (c *Centroid) hasMoved(id int) bool {
	h := c.history[id]
	if len(h) < c.maxDisappeared {
		return true
	}
	return h[0].Dist(h[len(h)-1]) > centroidMoveThreshold
}

func (c *Centroid) objectsOut() []Object {
	out := make([]Object, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, Object{
			ID:         id,
			Box:        c.boxes[id],
			Trajectory: append([]vision.Point(nil), c.history[id]...),
		})
	}
	return out
}

func (c *Centroid) LoiteringIDs(threshold time.Duration) []int {
	var ids []int
	now := c.now()
	for _, id := range c.order {
		start, ok := c.loiteringStart[id]
		if ok && now.Sub(start) > threshold {
			ids = append(ids, id)
		}
	}
	return ids
}

// DetailedLoitering gives a coarse report; the centroid tracker has no
// per-track confidence model, so every hit is graded MEDIUM.
func (c *Centroid) DetailedLoitering(threshold time.Duration) map[int]LoiteringInfo {
	info := make(map[int]LoiteringInfo)
	now := c.now()
	for _, id := range c.order {
		start, ok := c.loiteringStart[id]
		if !ok || now.Sub(start) <= threshold {
			continue
		}
		info[id] = LoiteringInfo{
			ID:         id,
			Duration:   now.Sub(start),
			Box:        c.boxes[id],
			Confidence: "MEDIUM",
			Hits:       1,
		}
	}
	return info
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}

func argMin(v []float64) int {
	best, idx := math.Inf(1), 0
	for i, x := range v {
		if x < best {
			best, idx = x, i
		}
	}
	return idx
}
