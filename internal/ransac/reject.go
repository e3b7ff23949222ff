package ransac

import "github.com/relabs-tech/inertial_computer/internal/landmark"

// RejectOutliers runs FindInliers over every landmark's latest observation
// on cam against its immediately preceding observation, popping the
// outliers' newest sighting and stamping flag_dead_frame_id with frameID,
// exactly as DataAssociation.cpp's RemoveOutlierBy2PointRansac call site
// does: a popped landmark still lives (it keeps whatever earlier
// observations it had) but loses this frame's contribution.
func RejectOutliers(tracked []*landmark.Landmark, cam int, dR Rotation, frameID int, opt Options, rng IntN) {
	prevRay := make([][3]float64, 0, len(tracked))
	curRay := make([][3]float64, 0, len(tracked))
	candidates := make([]*landmark.Landmark, 0, len(tracked))

	for _, lm := range tracked {
		if lm.LastObs[cam] == nil || lm.LastLastObs[cam] == nil {
			continue
		}
		candidates = append(candidates, lm)
		prevRay = append(prevRay, lm.LastLastObs[cam].Ray)
		curRay = append(curRay, lm.LastObs[cam].Ray)
	}
	if len(candidates) < 2 {
		return
	}

	mask := FindInliers(prevRay, curRay, dR, opt, rng)
	for i, lm := range candidates {
		if !mask[i] {
			lm.PopObservation(cam)
			lm.SetDeadFlag(cam, frameID)
		}
	}
}
