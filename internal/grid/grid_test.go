package grid

import (
	"math/rand"
	"testing"

	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPose struct{ id int }

func (p *stubPose) ID() int                      { return p.id }
func (p *stubPose) ForgetObservation(int)        {}

func uniformLandmarks(n int) []*landmark.Landmark {
	out := make([]*landmark.Landmark, 0, n*n)
	id := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			lm := &landmark.Landmark{ID: id, FlagDeadAll: true, RayAngle: 0.5}
			lm.PushObservation(0, &landmark.VisualObservation{
				Px:   [2]float64{float64(j) * 100, float64(i) * 100},
				Pose: &stubPose{id: id},
			})
			out = append(out, lm)
			id++
		}
	}
	return out
}

func TestGrid44To22CoversUpToTopTwoPerBin(t *testing.T) {
	landmarks := uniformLandmarks(10) // 100 landmarks on a 10x10 grid, width/height 1000
	var buf []*landmark.Landmark
	quadrants := Grid44To22(landmarks, 1000, 1000, &buf)

	total := 0
	for _, q := range quadrants {
		total += len(q)
	}
	// Each of the 16 4x4 bins keeps at most 2, and each 2x2 quadrant
	// aggregates 4 of those bins, so at most 4*2*4=32 survive overall.
	assert.LessOrEqual(t, total, 32)
	assert.Greater(t, total, 0)
}

func TestGrid44To22PermutationInvariant(t *testing.T) {
	landmarks := uniformLandmarks(6)
	var bufA, bufB []*landmark.Landmark

	qA := Grid44To22(cloneLandmarks(landmarks), 600, 600, &bufA)

	shuffled := cloneLandmarks(landmarks)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	qB := Grid44To22(shuffled, 600, 600, &bufB)

	setA := idSet(qA)
	setB := idSet(qB)
	require.Equal(t, len(setA), len(setB))
	for id := range setA {
		assert.Contains(t, setB, id)
	}
}

func cloneLandmarks(in []*landmark.Landmark) []*landmark.Landmark {
	out := make([]*landmark.Landmark, len(in))
	copy(out, in)
	return out
}

func idSet(quadrants [4][]*landmark.Landmark) map[int]bool {
	m := map[int]bool{}
	for _, q := range quadrants {
		for _, lm := range q {
			m[lm.ID] = true
		}
	}
	return m
}

func TestGrid44ByCountOrdersAscendingOccupancy(t *testing.T) {
	landmarks := []*landmark.Landmark{}
	// bin 0 (top-left quadrant of 4x4): 3 landmarks; bin 15: 1 landmark.
	for i := 0; i < 3; i++ {
		lm := &landmark.Landmark{ID: i, StereoParallax: float64(i)}
		lm.PushObservation(0, &landmark.VisualObservation{Px: [2]float64{10, 10}, Pose: &stubPose{}})
		landmarks = append(landmarks, lm)
	}
	lastLm := &landmark.Landmark{ID: 99, StereoParallax: 1}
	lastLm.PushObservation(0, &landmark.VisualObservation{Px: [2]float64{990, 990}, Pose: &stubPose{}})
	landmarks = append(landmarks, lastLm)

	bins, order := Grid44ByCount(landmarks, 1000, 1000)
	require.NotEmpty(t, order)
	assert.Equal(t, 15, order[0]) // fewest occupants first
	assert.Len(t, bins[15], 1)
	assert.Len(t, bins[0], 3)
	// within bin 0, descending stereo parallax
	assert.Equal(t, 2.0, bins[0][0].StereoParallax)
}
