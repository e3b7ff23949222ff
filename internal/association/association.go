// Package association implements the per-frame data-association
// orchestrator: it classifies tracked landmarks, runs the coverage grid
// selector, budgets how many points the filter can admit this frame, and
// drives each candidate through the solver's triangulate/jacobian/gate
// pipeline, splitting survivors between persistent SLAM points and
// one-shot MSCKF updates.
package association

import (
	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/grid"
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/relabs-tech/inertial_computer/internal/solver"
)

// Config holds the filter sizing knobs that drive the admission budget.
type Config struct {
	MaxWindowSize           int
	MaxPointSize            int // cap on persistent SLAM points, e.g. 16
	MaxObsSize              int
	MaxAdditionalMsckfPoint int
	Stereo                  bool
}

// Stats surfaces the observability counters the error-handling design
// calls for: points triangulated, gated out, admitted, and the
// SLAM/MSCKF split.
type Stats struct {
	Triangulated      int
	TriangulateFail   int
	JacobianFail      int
	MahalanobisReject int
	SlamAdmitted      int
	MsckfAdmitted     int
}

func (s *Stats) Admitted() int { return s.SlamAdmitted + s.MsckfAdmitted }

// Associate runs one frame's data-association pass.
//
//   - tracked is the upstream tracker's current live landmark list (may
//     include existing SLAM points, which are left untouched).
//   - buffered is the previous frame's deferred-landmark buffer; it is
//     absorbed here and reset to the landmarks this frame itself defers.
//   - slamPoints is the filter's current persistent SLAM point set: it
//     tallies existing per-quadrant occupancy, and its size reduces the
//     admission budget.
func Associate(
	tracked []*landmark.Landmark,
	buffered *[]*landmark.Landmark,
	slamPoints []*landmark.PointState,
	solv solver.Solver,
	cam camera.Model,
	cfg Config,
	frameID int,
) Stats {
	var stats Stats

	deadSet := absorbBuffered(buffered)
	deadSet = append(deadSet, classifyTracked(tracked)...)

	quadrants := grid.Grid44To22(deadSet, cam.Width(), cam.Height(), buffered)

	budget := admissionBudget(cfg, len(slamPoints))
	quarterBudget := [4]int{budget / 4, budget / 4, budget / 4, budget / 4}

	slotsLeft := slamSlotsByQuadrant(slamPoints, cam, cfg.MaxPointSize)

	admitted := selectionPass(&quadrants, &quarterBudget, slotsLeft, solv, buffered, &stats)

	if leftover := reflow(&quarterBudget); leftover > 0 {
		admitted += selectionPass(&quadrants, &quarterBudget, slotsLeft, solv, buffered, &stats)
	}

	if admitted == 0 && cfg.Stereo {
		stereoFallback(deadSet, cam, cfg, solv, buffered, &stats)
	}

	return stats
}

// absorbBuffered decides the fate of every landmark deferred by the
// previous frame: enough valid observations promotes it into this
// frame's dead set, otherwise it is released.
func absorbBuffered(buffered *[]*landmark.Landmark) []*landmark.Landmark {
	prev := *buffered
	*buffered = nil

	promoted := make([]*landmark.Landmark, 0, len(prev))
	for _, lm := range prev {
		if lm.ValidObsNum > 5 {
			promoted = append(promoted, lm)
		} else {
			lm.RemoveLinksInCamStates()
		}
	}
	return promoted
}

// classifyTracked walks the tracker's live list and decides which
// landmarks are candidates for this frame's filter update.
func classifyTracked(tracked []*landmark.Landmark) []*landmark.Landmark {
	promoted := make([]*landmark.Landmark, 0, len(tracked))
	for _, lm := range tracked {
		if lm.PointState != nil && lm.PointState.FlagSlamPoint {
			continue
		}
		if lm.FlagDeadAll {
			if lm.NumObsTracked >= 6 && lm.ValidObsNum >= 4 {
				promoted = append(promoted, lm)
			} else {
				lm.RemoveLinksInCamStates()
			}
			continue
		}
		if lm.NumObsTracked > 6 && lm.ValidObsNum >= 6 {
			promoted = append(promoted, lm)
		}
	}
	return promoted
}

// admissionBudget computes the filter's remaining observation capacity,
// split across the 2x2 quadrants.
func admissionBudget(cfg Config, nSlam int) int {
	reserved := cfg.MaxAdditionalMsckfPoint*cfg.MaxWindowSize*2 + nSlam*5
	remaining := cfg.MaxObsSize - reserved
	if remaining <= 0 {
		return 0
	}
	denom := cfg.MaxWindowSize * 2
	if denom <= 0 {
		return 0
	}
	return remaining / denom
}

// slamSlotsByQuadrant tallies existing SLAM points per quadrant and
// returns, per quadrant, how many more the filter will accept this frame.
// The two cases are mutually exclusive, matching
// `_tryAddMsckfPoseConstraint`'s `if (nSlamPoint < max_slam_point) ... else
// ...`: below MaxPointSize total SLAM points, deficits are filled by
// repeatedly giving a slot to the quadrant currently holding the fewest;
// at or above MaxPointSize, no new slots are granted except where a
// quadrant holds more than its even share (MaxPointSize/4), in which case
// its third point (`m_slamPointGrid22[i][2]`) is marked for marginalization
// next frame and exactly one slot is freed for that quadrant.
func slamSlotsByQuadrant(slamPoints []*landmark.PointState, cam camera.Model, maxPoints int) [4]int {
	var quadrantPoints [4][]*landmark.PointState
	for _, ps := range slamPoints {
		if ps.Host == nil {
			continue
		}
		if q, ok := grid.Quadrant(ps.Host, cam.Width(), cam.Height()); ok {
			quadrantPoints[q] = append(quadrantPoints[q], ps)
		}
	}

	var counts [4]int
	total := 0
	for q := 0; q < 4; q++ {
		counts[q] = len(quadrantPoints[q])
		total += counts[q]
	}

	var slots [4]int
	if total < maxPoints {
		for i := total; i < maxPoints; i++ {
			q := minIndex(counts)
			slots[q]++
			counts[q]++
		}
		return slots
	}

	perQuadrant := maxPoints / 4
	for q := 0; q < 4; q++ {
		if counts[q] > perQuadrant && len(quadrantPoints[q]) > 2 {
			quadrantPoints[q][2].FlagToNextMarginalize = true
			slots[q]++
		}
	}
	return slots
}

func minIndex(counts [4]int) int {
	idx := 0
	for i := 1; i < 4; i++ {
		if counts[i] < counts[idx] {
			idx = i
		}
	}
	return idx
}

// selectionPass pops the back (lowest priority) of each quadrant's queue
// while its budget remains, driving each candidate through the solver's
// triangulate/jacobian/gate pipeline and admitting survivors.
func selectionPass(quadrants *[4][]*landmark.Landmark, budget *[4]int, slamSlots [4]int, solv solver.Solver, buffered *[]*landmark.Landmark, stats *Stats) int {
	admitted := 0
	for q := 0; q < 4; q++ {
		for budget[q] > 0 && len(quadrants[q]) > 0 {
			n := len(quadrants[q])
			lm := quadrants[q][n-1]
			quadrants[q] = quadrants[q][:n-1]
			budget[q]--

			if !solv.Triangulate(lm) {
				stats.TriangulateFail++
				if lm.FlagDeadAll {
					*buffered = append(*buffered, lm)
				}
				continue
			}
			stats.Triangulated++

			if !solv.ComputeJacobians(lm) {
				stats.JacobianFail++
				if lm.FlagDeadAll {
					*buffered = append(*buffered, lm)
				}
				continue
			}

			if !solv.MahalanobisTest(lm.PointState) {
				stats.MahalanobisReject++
				if lm.FlagDeadAll {
					*buffered = append(*buffered, lm)
				}
				continue
			}

			if !lm.FlagDeadAll && lm.FlagSlamCandidate && slamSlots[q] > 0 {
				solv.AddSlamPoint(lm.PointState)
				slamSlots[q]--
				stats.SlamAdmitted++
			} else {
				solv.AddMsckfPoint(lm.PointState)
				lm.FlagDead[0] = true
				lm.FlagDead[1] = true
				lm.FlagDeadAll = true
				stats.MsckfAdmitted++
			}
			admitted++
		}
	}
	return admitted
}

// reflow pools all unused per-quadrant budget and hands it back out, split
// evenly, to the quadrants that exhausted their own budget entirely
// (budget[q] == 0) — the ones that may still have candidates queued.
// Quadrants that still hold unused budget (they ran out of candidates
// before spending it) have that leftover reclaimed into the pool. Mirrors
// `_tryAddMsckfPoseConstraint`'s `if (ptLeft == 0) ptLeft = nPointsLeft /
// nMoreGrid; else ptLeft = 0;`, keyed purely on the budget counters rather
// than on remaining queue length.
func reflow(budget *[4]int) int {
	slack := 0
	needy := 0
	for q := 0; q < 4; q++ {
		slack += budget[q]
		if budget[q] == 0 {
			needy++
		}
	}
	if slack == 0 || needy == 0 {
		return 0
	}
	share := slack / needy
	for q := 0; q < 4; q++ {
		if budget[q] == 0 {
			budget[q] = share
		} else {
			budget[q] = 0
		}
	}
	return slack
}

// stereoFallback runs the secondary admission path used when the
// coverage grid admitted nothing this frame: a flat 4x4 bin-by-count
// ordering favoring sparsely-populated bins, stereo_parallax descending
// within each bin, each survivor routed to AddSlamPoint or AddMsckfPoint
// by its own FlagSlamCandidate, matching `_tryAddStereoPoint`.
func stereoFallback(candidates []*landmark.Landmark, cam camera.Model, cfg Config, solv solver.Solver, buffered *[]*landmark.Landmark, stats *Stats) {
	bins, order := grid.Grid44ByCount(candidates, cam.Width(), cam.Height())
	if len(order) == 0 {
		return
	}

	remainingBins := len(order)
	for _, b := range order {
		share := cfg.MaxPointSize / remainingBins
		remainingBins--
		taken := 0
		for taken < share && len(bins[b]) > 0 {
			n := len(bins[b])
			lm := bins[b][n-1]
			bins[b] = bins[b][:n-1]
			taken++

			if !solv.Triangulate(lm) {
				stats.TriangulateFail++
				continue
			}
			stats.Triangulated++

			if !solv.ComputeJacobians(lm) {
				stats.JacobianFail++
				continue
			}

			if !solv.MahalanobisTest(lm.PointState) {
				stats.MahalanobisReject++
				continue
			}

			if lm.FlagSlamCandidate {
				solv.AddSlamPoint(lm.PointState)
				stats.SlamAdmitted++
			} else {
				solv.AddMsckfPoint(lm.PointState)
				lm.FlagDead[0] = true
				lm.FlagDead[1] = true
				lm.FlagDeadAll = true
				stats.MsckfAdmitted++
			}
		}
	}
}
