// Package grid implements the coarse-to-fine spatial coverage selector:
// a 4x4 pixel-bin assignment coarsened to a 2x2 priority queue, and the
// flat 4x4 bin-by-count ordering used by the stereo fallback.
package grid

import (
	"sort"

	"github.com/relabs-tech/inertial_computer/internal/landmark"
)

// bin44To22 maps a 4x4 bin index (row-major, 0..15) to its 2x2 quadrant.
var bin44To22 = [16]int{
	0, 0, 1, 1,
	0, 0, 1, 1,
	2, 2, 3, 3,
	2, 2, 3, 3,
}

// binOf returns the 4x4 bin index for a pixel within a width x height
// image, clamped to the valid range.
func binOf(px [2]float64, width, height int) int {
	stepX := float64(width) / 4
	stepY := float64(height) / 4
	col := int(px[0] / stepX)
	row := int(px[1] / stepY)
	if col < 0 {
		col = 0
	}
	if col > 3 {
		col = 3
	}
	if row < 0 {
		row = 0
	}
	if row > 3 {
		row = 3
	}
	return row*4 + col
}

// primaryPixel returns the pixel to bin a landmark by: its primary
// camera's last observation, falling through to the secondary camera if
// the primary has none.
func primaryPixel(lm *landmark.Landmark) ([2]float64, bool) {
	if lm.LastObs[0] != nil {
		return lm.LastObs[0].Px, true
	}
	if lm.LastObs[1] != nil {
		return lm.LastObs[1].Px, true
	}
	return [2]float64{}, false
}

// less implements the comparator used both to rank a 4x4 bin's contents
// (picking the top 2 by parallax) and to order the final 2x2 priority
// queues: larger ray angle first, with alive (not dead_all) landmarks
// breaking ties ahead of dead ones, then lower landmark ID first, so the
// result does not depend on input order.
func less(a, b *landmark.Landmark) bool {
	if a.RayAngle != b.RayAngle {
		return a.RayAngle > b.RayAngle
	}
	if a.FlagDeadAll != b.FlagDeadAll {
		return !a.FlagDeadAll
	}
	return a.ID < b.ID
}

// Quadrant returns the 2x2 quadrant a landmark's primary pixel falls in,
// or false if the landmark has no observation to bin by. Used by the
// association orchestrator to tally existing SLAM points per quadrant.
func Quadrant(lm *landmark.Landmark, width, height int) (int, bool) {
	px, ok := primaryPixel(lm)
	if !ok {
		return 0, false
	}
	return bin44To22[binOf(px, width, height)], true
}

// Grid44To22 assigns landmarks to 16 pixel bins, keeps the top 2 per bin
// by the ray-angle comparator, coarsens into 4 quadrant priority queues
// (each already sorted by the same comparator, back-to-front pop order
// matching the source's "pop the back" selection loop), and pushes every
// dropped dead_all landmark onto nextFrameBuf for a later attempt.
func Grid44To22(landmarks []*landmark.Landmark, width, height int, nextFrameBuf *[]*landmark.Landmark) [4][]*landmark.Landmark {
	var bins44 [16][]*landmark.Landmark
	for _, lm := range landmarks {
		px, ok := primaryPixel(lm)
		if !ok {
			continue
		}
		b := binOf(px, width, height)
		bins44[b] = append(bins44[b], lm)
	}

	var quadrants [4][]*landmark.Landmark
	for b, contents := range bins44 {
		if len(contents) == 0 {
			continue
		}
		sort.Slice(contents, func(i, j int) bool { return less(contents[i], contents[j]) })

		keep := contents
		if len(keep) > 2 {
			keep = contents[:2]
			for _, dropped := range contents[2:] {
				if dropped.FlagDeadAll {
					*nextFrameBuf = append(*nextFrameBuf, dropped)
				} else {
					dropped.RemoveLinksInCamStates()
				}
			}
		}

		q := bin44To22[b]
		quadrants[q] = append(quadrants[q], keep...)
	}

	for q := range quadrants {
		sort.Slice(quadrants[q], func(i, j int) bool { return less(quadrants[q][i], quadrants[q][j]) })
	}
	return quadrants
}

// Grid44ByCount assigns landmarks to 16 pixel bins (no coarsening, no
// culling) and returns the bins alongside an ordering of bin indices
// ascending by occupancy, as the stereo fallback requires.
func Grid44ByCount(landmarks []*landmark.Landmark, width, height int) ([16][]*landmark.Landmark, []int) {
	var bins [16][]*landmark.Landmark
	for _, lm := range landmarks {
		px, ok := primaryPixel(lm)
		if !ok {
			continue
		}
		b := binOf(px, width, height)
		bins[b] = append(bins[b], lm)
	}

	for b := range bins {
		sort.Slice(bins[b], func(i, j int) bool {
			return bins[b][i].StereoParallax > bins[b][j].StereoParallax
		})
	}

	order := make([]int, 0, 16)
	for b := range bins {
		if len(bins[b]) > 0 {
			order = append(order, b)
		}
	}
	sort.Slice(order, func(i, j int) bool { return len(bins[order[i]]) < len(bins[order[j]]) })
	return bins, order
}
