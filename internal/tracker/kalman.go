package tracker

import (
	"math"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// kalmanBox is a constant-velocity Kalman filter over the state
// [cx, cy, s, h, dcx, dcy, dh] where s = w/h. Only [cx, cy, s, h] is
// observed. Dimensions are fixed, so the matrix algebra is unrolled
// over plain arrays instead of pulling in a linear-algebra dependency.
type kalmanBox struct {
	x [7]float64
	p [7][7]float64
}

// Transition: cx += dcx, cy += dcy, h += dh; velocities persist.
var kalmanF = [7][7]float64{
	{1, 0, 0, 0, 1, 0, 0},
	{0, 1, 0, 0, 0, 1, 0},
	{0, 0, 1, 0, 0, 0, 0},
	{0, 0, 0, 1, 0, 0, 1},
	{0, 0, 0, 0, 1, 0, 0},
	{0, 0, 0, 0, 0, 1, 0},
	{0, 0, 0, 0, 0, 0, 1},
}

// Measurement noise: size components are less trusted than position.
var kalmanR = [4]float64{1, 1, 10, 10}

// Process noise: low for velocities, lowest for height change.
var kalmanQ = [7]float64{1, 1, 1, 1, 0.01, 0.01, 0.0001}

func newKalmanBox(box vision.Rect) *kalmanBox {
	k := &kalmanBox{}
	z := boxToMeasurement(box)
	copy(k.x[:4], z[:])

	// High initial uncertainty, highest on the unobserved velocities.
	for i := 0; i < 7; i++ {
		k.p[i][i] = 10
	}
	for i := 4; i < 7; i++ {
		k.p[i][i] = 10000
	}
	return k
}

func boxToMeasurement(box vision.Rect) [4]float64 {
	w := box.Width()
	h := box.Height()
	if h == 0 {
		h = 1e-6
	}
	return [4]float64{box.X1 + w/2, box.Y1 + h/2, w / h, h}
}

func (k *kalmanBox) state() vision.Rect {
	h := k.x[3]
	w := k.x[2] * h
	return vision.Rect{
		X1: k.x[0] - w/2,
		Y1: k.x[1] - h/2,
		X2: k.x[0] + w/2,
		Y2: k.x[1] + h/2,
	}
}

// predict advances the state one step: x = F·x, P = F·P·Fᵀ + Q.
// A shrinking box is clamped so height cannot go non-positive.
func (k *kalmanBox) predict() {
	if k.x[6]+k.x[3] <= 0 {
		k.x[6] = 0
	}

	var nx [7]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			nx[i] += kalmanF[i][j] * k.x[j]
		}
	}
	k.x = nx

	var fp [7][7]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			for l := 0; l < 7; l++ {
				fp[i][j] += kalmanF[i][l] * k.p[l][j]
			}
		}
	}
	var np [7][7]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			for l := 0; l < 7; l++ {
				np[i][j] += fp[i][l] * kalmanF[j][l]
			}
		}
	}
	for i := 0; i < 7; i++ {
		np[i][i] += kalmanQ[i]
	}
	k.p = np
}

// update folds a measurement into the state. H selects the first four
// state components, so H·P·Hᵀ is the top-left 4x4 block of P.
func (k *kalmanBox) update(box vision.Rect) {
	z := boxToMeasurement(box)

	var y [4]float64
	for i := 0; i < 4; i++ {
		y[i] = z[i] - k.x[i]
	}

	var s [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s[i][j] = k.p[i][j]
		}
		s[i][i] += kalmanR[i]
	}
	sInv, ok := invert4(s)
	if !ok {
		return
	}

	// K = P·Hᵀ·S⁻¹ is 7x4; P·Hᵀ is the first four columns of P.
	var gain [7][4]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 4; j++ {
			for l := 0; l < 4; l++ {
				gain[i][j] += k.p[i][l] * sInv[l][j]
			}
		}
	}

	for i := 0; i < 7; i++ {
		for j := 0; j < 4; j++ {
			k.x[i] += gain[i][j] * y[j]
		}
	}

	// P = (I - K·H)·P; K·H occupies the first four columns.
	var np [7][7]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			v := k.p[i][j]
			for l := 0; l < 4; l++ {
				v -= gain[i][l] * k.p[l][j]
			}
			np[i][j] = v
		}
	}
	k.p = np
}

// invert4 inverts a 4x4 matrix by Gauss-Jordan elimination with
// partial pivoting. Returns false for a singular matrix.
func invert4(m [4][4]float64) ([4][4]float64, bool) {
	var aug [4][8]float64
	for i := 0; i < 4; i++ {
		copy(aug[i][:4], m[i][:])
		aug[i][4+i] = 1
	}

	for col := 0; col < 4; col++ {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return [4][4]float64{}, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for j := 0; j < 8; j++ {
			aug[col][j] /= pv
		}
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			for j := 0; j < 8; j++ {
				aug[r][j] -= f * aug[col][j]
			}
		}
	}

	var out [4][4]float64
	for i := 0; i < 4; i++ {
		copy(out[i][:], aug[i][4:])
	}
	return out, true
}
