package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPinholeProjectBearingRoundTrip(t *testing.T) {
	p := &Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}

	x := [3]float64{0.3, -0.1, 2.0}
	px := p.Project(x)
	ray := p.Bearing(px)

	// The ray should point in the same direction as x, up to scale.
	scale := x[2] / ray[2]
	assert.InDelta(t, x[0], ray[0]*scale, 1e-6)
	assert.InDelta(t, x[1], ray[1]*scale, 1e-6)
}

func TestPinholeDistortionJacobianMatchesFiniteDifference(t *testing.T) {
	p := &Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	x := [3]float64{0.3, -0.1, 2.0}
	jac := p.DistortionJacobian(x)

	const h = 1e-6
	for k := 0; k < 3; k++ {
		xp, xm := x, x
		xp[k] += h
		xm[k] -= h
		dpx := p.Project(xp)
		dmx := p.Project(xm)
		for row := 0; row < 2; row++ {
			numeric := (dpx[row] - dmx[row]) / (2 * h)
			assert.InDelta(t, numeric, jac[row][k], 1e-3)
		}
	}
}
