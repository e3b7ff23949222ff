package ransac

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func identityRotation() Rotation {
	var r Rotation
	r[0][0], r[1][1], r[2][2] = 1, 1, 1
	return r
}

func TestFindInliersRecoversMajorityAgainstRandomOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const nInlier, nOutlier = 50, 50

	that := [3]float64{1, 0, 0}
	ray0 := make([][3]float64, 0, nInlier+nOutlier)
	ray1 := make([][3]float64, 0, nInlier+nOutlier)
	isInlier := make([]bool, 0, nInlier+nOutlier)

	for i := 0; i < nInlier; i++ {
		theta := float64(i) * 0.01
		a := [3]float64{math.Cos(theta), math.Sin(theta), 0.3}
		a = normalize(a)
		b := consistentPair(a, that)
		ray0 = append(ray0, a)
		ray1 = append(ray1, b)
		isInlier = append(isInlier, true)
	}
	for i := 0; i < nOutlier; i++ {
		a := normalize([3]float64{rng.Float64() - 0.5, rng.Float64() - 0.5, 1})
		b := normalize([3]float64{rng.Float64() - 0.5, rng.Float64() - 0.5, 1})
		ray0 = append(ray0, a)
		ray1 = append(ray1, b)
		isInlier = append(isInlier, false)
	}

	mask := FindInliers(ray0, ray1, identityRotation(), DefaultOptions(), rng)

	correctInlier, wrongAdmitted := 0, 0
	for i, m := range mask {
		if m && isInlier[i] {
			correctInlier++
		}
		if m && !isInlier[i] {
			wrongAdmitted++
		}
	}
	assert.GreaterOrEqual(t, correctInlier, 40)
	assert.LessOrEqual(t, wrongAdmitted, 10)
}

func TestFindInliersTooFewCorrespondences(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	mask := FindInliers([][3]float64{{1, 0, 0}}, [][3]float64{{1, 0, 0}}, identityRotation(), DefaultOptions(), rng)
	assert.Equal(t, []bool{false}, mask)
}

func normalize(v [3]float64) [3]float64 {
	n := vecNorm(v)
	return scale(v, 1/n)
}

// consistentPair builds a ray1 that satisfies the epipolar constraint
// a x b . that == 0 for the given translation direction `that`, by
// constructing b as a linear combination of a and that — any such b keeps
// the plane spanned by {a, b} equal to the plane spanned by {a, that}, so
// its normal is exactly orthogonal to that.
func consistentPair(a, that [3]float64) [3]float64 {
	b := addVec(a, scale(that, 0.3))
	return normalize(b)
}

func addVec(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}
