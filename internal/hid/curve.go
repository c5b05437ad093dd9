package hid

import "math/rand"

type point struct {
	X, Y float64
}

// controlPoints builds the control polygon for a relative mouse move from the
// origin to (dx, dy): the two endpoints plus two interior points at the third
// marks, each perturbed by up to perturb pixels per axis.
func controlPoints(rng *rand.Rand, dx, dy, perturb float64) []point {
	jitter := func() float64 { return (rng.Float64()*2 - 1) * perturb }
	return []point{
		{0, 0},
		{dx/3 + jitter(), dy/3 + jitter()},
		{2*dx/3 + jitter(), 2*dy/3 + jitter()},
		{dx, dy},
	}
}

// deCasteljau evaluates the Bezier curve defined by ctrl at parameter t using
// repeated linear interpolation. Numerically stabler than the polynomial form
// and independent of the control point count.
func deCasteljau(ctrl []point, t float64) point {
	tmp := make([]point, len(ctrl))
	copy(tmp, ctrl)
	for k := len(tmp) - 1; k > 0; k-- {
		for i := 0; i < k; i++ {
			tmp[i] = point{
				X: tmp[i].X*(1-t) + tmp[i+1].X*t,
				Y: tmp[i].Y*(1-t) + tmp[i+1].Y*t,
			}
		}
	}
	return tmp[0]
}

// bezierPath samples the perturbed curve at steps points, excluding the
// origin and including the exact endpoint.
func bezierPath(rng *rand.Rand, dx, dy float64, steps int, perturb float64) []point {
	if steps < 1 {
		steps = 1
	}
	ctrl := controlPoints(rng, dx, dy, perturb)
	path := make([]point, steps)
	for i := 1; i <= steps; i++ {
		path[i-1] = deCasteljau(ctrl, float64(i)/float64(steps))
	}
	// The De Casteljau endpoint is exact up to float error; pin it so the
	// accumulated deltas land precisely on target.
	path[steps-1] = point{dx, dy}
	return path
}
