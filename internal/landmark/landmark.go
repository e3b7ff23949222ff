// Package landmark holds the per-feature track state shared by the
// RANSAC, grid-selection and data-association stages: observations across
// cameras, tracking counters, dead flags, and the point estimate once a
// landmark is promoted into the filter.
package landmark

// CamPoseState is the solver-owned per-frame pose state that observations
// link back to. The solver is the only thing that constructs one; this
// package only ever reads its ID and removes itself from its back-set.
type CamPoseState interface {
	ID() int
	ForgetObservation(landmarkID int)
}

// VisualObservation is one (landmark, camera, frame) sighting.
type VisualObservation struct {
	Px       [2]float64 // observed pixel
	PxReprj  [2]float64 // filled by the solver's Reproject step
	Ray      [3]float64 // unit bearing ray in the camera frame
	Pose     CamPoseState
	CamIndex int
}

const numCameras = 2

// PointState is the solver's estimate of a landmark's 3-D position, once
// promoted. FlagSlamPoint distinguishes a persistent filter-state point
// from a one-shot MSCKF update; FlagToNextMarginalize marks a SLAM point
// selected for marginalization on the next frame's over-budget quadrant.
type PointState struct {
	Position              [3]float64
	FlagSlamPoint          bool
	FlagToNextMarginalize  bool
	Host                   *Landmark
}

// Landmark is a tracked feature's full lifecycle state. It is created by
// the upstream tracker (out of scope for this package) and lives as long
// as at least one camera still observes it.
type Landmark struct {
	ID int

	obs [numCameras][]*VisualObservation

	FlagDead       [numCameras]bool
	FlagDeadAll    bool
	FlagDeadFrame  [numCameras]int // frame id stamped when an observation was popped

	ValidObsNum    int
	NumObsTracked  int

	FlagSlamCandidate bool
	StereoParallax    float64
	RayAngle          float64

	PointState *PointState

	LastObs     [numCameras]*VisualObservation
	LastLastObs [numCameras]*VisualObservation

	// Deferred is not set by the grid selector or the association pass;
	// a landmark deferred to the next frame is tracked by its presence in
	// the next-frame buffer.
	Deferred bool
}

// Observations returns the observation list for a camera index.
func (l *Landmark) Observations(cam int) []*VisualObservation {
	return l.obs[cam]
}

// PushObservation appends a new sighting and refreshes the last/last-last
// convenience handles.
func (l *Landmark) PushObservation(cam int, o *VisualObservation) {
	l.obs[cam] = append(l.obs[cam], o)
	l.LastLastObs[cam] = l.LastObs[cam]
	l.LastObs[cam] = o
}

// PopObservation removes and returns the most recent observation for cam,
// or nil if there is none. Used by RANSAC to drop outliers from the
// latest frame only.
func (l *Landmark) PopObservation(cam int) *VisualObservation {
	n := len(l.obs[cam])
	if n == 0 {
		return nil
	}
	o := l.obs[cam][n-1]
	l.obs[cam] = l.obs[cam][:n-1]
	if n-1 > 0 {
		l.LastObs[cam] = l.obs[cam][n-2]
	} else {
		l.LastObs[cam] = nil
	}
	l.LastLastObs[cam] = nil
	return o
}

// RemoveLinksInCamStates walks every observation this landmark holds and
// erases this landmark's id from the owning pose's back-set, preventing a
// dangling reference once the landmark itself is discarded.
func (l *Landmark) RemoveLinksInCamStates() {
	for cam := 0; cam < numCameras; cam++ {
		for _, o := range l.obs[cam] {
			if o.Pose != nil {
				o.Pose.ForgetObservation(l.ID)
			}
		}
		l.obs[cam] = nil
	}
}

// SetDeadFlag marks a camera's track dead and stamps the frame id the
// drop happened on, mirroring the source's
// track->flag_dead_frame_id[cam_id] = track->last_obs_[cam_id]->link_frame->state->m_id
// assignment on every path that pops a landmark's latest observation.
func (l *Landmark) SetDeadFlag(cam int, frameID int) {
	l.FlagDead[cam] = true
	l.FlagDeadFrame[cam] = frameID
	if l.FlagDead[0] && (numCameras == 1 || l.FlagDead[1]) {
		l.FlagDeadAll = true
	}
}
