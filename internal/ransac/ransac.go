// Package ransac implements gyro-aided two-point RANSAC outlier rejection
// for feature correspondences between two consecutive frames, fixing the
// inter-frame rotation to the value predicted by IMU preintegration so
// only a translation direction need be estimated from each candidate pair.
package ransac

import "math"

// IntN is the minimal random-source interface FindInliers needs; a
// *math/rand.Rand (or *math/rand/v2.Rand via an adapter) satisfies it,
// letting tests inject a seeded, deterministic source.
type IntN interface {
	Intn(n int) int
}

// Rotation is a row-major 3x3 rotation matrix, typically the
// gyro-predicted inter-frame rotation handed in from preintegration.
type Rotation = [3][3]float64

// Options tunes the RANSAC search.
type Options struct {
	Confidence        float64 // required probability of having sampled an all-inlier pair, e.g. 0.99
	InlierRatio       float64 // assumed inlier fraction used to size the iteration count, e.g. 0.5
	ResidualThreshold float64 // epipolar residual gate on the unit-normalized plane normal
}

// DefaultOptions matches the typical two-point RANSAC tuning: 99%
// confidence, an assumed 50% inlier ratio.
func DefaultOptions() Options {
	return Options{Confidence: 0.99, InlierRatio: 0.5, ResidualThreshold: 1e-3}
}

// FindInliers returns a boolean inlier mask aligned to ray0/ray1's order.
// ray0/ray1 are unit bearing rays for the same correspondences observed in
// frame0 and frame1 respectively; dR rotates a frame0-frame vector into
// frame1's frame.
func FindInliers(ray0, ray1 [][3]float64, dR Rotation, opt Options, rng IntN) []bool {
	n := len(ray0)
	inliers := make([]bool, n)
	if n < 2 || len(ray1) != n {
		return inliers
	}

	rotated := make([][3]float64, n)
	for i := range ray0 {
		rotated[i] = rotate(dR, ray0[i])
	}

	iterations := requiredIterations(opt.Confidence, opt.InlierRatio)

	bestScore := -1
	var bestMask []bool

	for it := 0; it < iterations; it++ {
		i := rng.Intn(n)
		j := rng.Intn(n)
		if i == j {
			continue
		}
		that, ok := translationFromPair(rotated[i], ray1[i], rotated[j], ray1[j])
		if !ok {
			continue
		}

		mask := make([]bool, n)
		score := 0
		for k := 0; k < n; k++ {
			if epipolarResidual(rotated[k], ray1[k], that) < opt.ResidualThreshold {
				mask[k] = true
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestMask = mask
		}
	}

	if bestMask == nil {
		return inliers
	}
	return bestMask
}

// requiredIterations sizes the RANSAC loop so that, assuming inlierRatio
// is correct, the probability of never having drawn an all-inlier pair
// falls below 1-confidence.
func requiredIterations(confidence, inlierRatio float64) int {
	if inlierRatio <= 0 || inlierRatio >= 1 {
		return 1
	}
	n := int(math.Ceil(math.Log(1-confidence) / math.Log(1-inlierRatio*inlierRatio)))
	if n < 1 {
		n = 1
	}
	if n > 2000 {
		n = 2000
	}
	return n
}

// translationFromPair estimates a unit translation direction consistent
// with both correspondences' epipolar planes: each pair (a, b) constrains
// the translation to lie in the plane spanned by a and b, so the
// intersection of two such planes recovers the direction.
func translationFromPair(a0, b0, a1, b1 [3]float64) ([3]float64, bool) {
	n0 := cross(a0, b0)
	n1 := cross(a1, b1)
	t := cross(n0, n1)
	norm := vecNorm(t)
	if norm < 1e-9 {
		return [3]float64{}, false
	}
	return scale(t, 1/norm), true
}

// epipolarResidual measures how far a candidate translation direction
// lies from correspondence (a, b)'s epipolar plane.
func epipolarResidual(a, b, that [3]float64) float64 {
	n := cross(a, b)
	norm := vecNorm(n)
	if norm < 1e-12 {
		return 0
	}
	return math.Abs(dot(scale(n, 1/norm), that))
}

func rotate(r Rotation, v [3]float64) [3]float64 {
	return [3]float64{
		r[0][0]*v[0] + r[0][1]*v[1] + r[0][2]*v[2],
		r[1][0]*v[0] + r[1][1]*v[1] + r[1][2]*v[2],
		r[2][0]*v[0] + r[2][1]*v[1] + r[2][2]*v[2],
	}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func scale(v [3]float64, s float64) [3]float64 { return [3]float64{v[0] * s, v[1] * s, v[2] * s} }

func vecNorm(v [3]float64) float64 { return math.Sqrt(dot(v, v)) }
