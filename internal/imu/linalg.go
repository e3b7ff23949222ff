package imu

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Small fixed-size linear algebra helpers used by preintegration. Rotations
// and Jacobian blocks are tiny (3x3) so plain gonum Dense is used rather
// than introducing a second matrix representation for the 9x9 covariance.

func identity3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

func zero3() *mat.Dense {
	return mat.NewDense(3, 3, nil)
}

// crossMat returns the skew-symmetric matrix of v such that crossMat(v)*x == v x x.
func crossMat(v [3]float64) *mat.Dense {
	m := mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
	return m
}

// vector2Jac approximates the right Jacobian inverse used by the source:
// I - 0.5*crossMat(x).
func vector2Jac(x [3]float64) *mat.Dense {
	m := identity3()
	c := crossMat(x)
	c.Scale(0.5, c)
	m.Sub(m, c)
	return m
}

// expSO3 is the SO(3) exponential map (Rodrigues' formula) of w*dt.
func expSO3(w [3]float64) *mat.Dense {
	theta := vecNorm(w)
	if theta < 1e-12 {
		r := identity3()
		r.Add(r, crossMat(w))
		return r
	}
	axis := [3]float64{w[0] / theta, w[1] / theta, w[2] / theta}
	k := crossMat(axis)
	var k2 mat.Dense
	k2.Mul(k, k)

	r := identity3()
	ks := zero3()
	ks.Scale(math.Sin(theta), k)
	r.Add(r, ks)

	k2s := zero3()
	k2s.Scale(1-math.Cos(theta), &k2)
	r.Add(r, k2s)
	return r
}

func vecNorm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func mulMat3Vec3(m *mat.Dense, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m.At(i, 0)*v[0] + m.At(i, 1)*v[1] + m.At(i, 2)*v[2]
	}
	return out
}

func addVec3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func subVec3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scaleVec3(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func lerpVec3(a, b [3]float64, k float64) [3]float64 {
	return addVec3(a, scaleVec3(subVec3(b, a), k))
}

func norm3(a [3]float64) float64 {
	return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
}

func toDense3(a [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
}

func fromDense3(m *mat.Dense) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
