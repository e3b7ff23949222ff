// Package camera defines the camera model interface the association and
// solver packages consume. Real calibrated models (fisheye, radtan, ...)
// are an external collaborator; Pinhole here exists for tests and the
// synthetic trajectory harness.
package camera

import "math"

// Model is the minimal camera abstraction the pipeline depends on.
type Model interface {
	Width() int
	Height() int
	IsStereo() bool
	// Bearing converts a pixel into a unit bearing ray in the camera frame.
	Bearing(px [2]float64) [3]float64
	// Project converts a 3-D point in the camera frame into a pixel.
	Project(x [3]float64) [2]float64
	// DistortionJacobian returns d(pixel)/d(X) at X, a 2x3 Jacobian.
	DistortionJacobian(x [3]float64) [2][3]float64
}

// Pinhole is an undistorted calibrated pinhole model: fx, fy, cx, cy.
type Pinhole struct {
	Fx, Fy, Cx, Cy float64
	W, H           int
	Stereo         bool
}

func (p *Pinhole) Width() int     { return p.W }
func (p *Pinhole) Height() int    { return p.H }
func (p *Pinhole) IsStereo() bool { return p.Stereo }

func (p *Pinhole) Bearing(px [2]float64) [3]float64 {
	x := (px[0] - p.Cx) / p.Fx
	y := (px[1] - p.Cy) / p.Fy
	n := normalize3(x, y, 1)
	return n
}

func (p *Pinhole) Project(x [3]float64) [2]float64 {
	return [2]float64{
		p.Fx*x[0]/x[2] + p.Cx,
		p.Fy*x[1]/x[2] + p.Cy,
	}
}

func (p *Pinhole) DistortionJacobian(x [3]float64) [2][3]float64 {
	z := x[2]
	z2 := z * z
	return [2][3]float64{
		{p.Fx / z, 0, -p.Fx * x[0] / z2},
		{0, p.Fy / z, -p.Fy * x[1] / z2},
	}
}

func normalize3(x, y, z float64) [3]float64 {
	n := math.Sqrt(x*x + y*y + z*z)
	return [3]float64{x / n, y / n, z / n}
}
