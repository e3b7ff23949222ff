package solver

import "gonum.org/v1/gonum/mat"

// Pose is the concrete camera-pose state the square-root EKF maintains
// for each frame in the sliding window. It satisfies landmark.CamPoseState
// so observations can link back to it and unlink on discard.
type Pose struct {
	id int

	R   *mat.Dense // 3x3, world_R_cam
	Pos [3]float64 // camera center in world frame
	Vel [3]float64 // camera center velocity in world frame

	// Correction accumulates the small error-state update folded in by
	// AddMsckfPoint/AddSlamPoint since this pose was created: [0:3]
	// rotation (world_R_cam <- world_R_cam*Exp(delta)), [3:6] position.
	Correction [6]float64

	obsIDs map[int]struct{}
}

// NewPose constructs a pose at the given world rotation/position, ready to
// be linked to observations.
func NewPose(id int, r *mat.Dense, pos [3]float64) *Pose {
	return &Pose{id: id, R: r, Pos: pos, obsIDs: make(map[int]struct{})}
}

func (p *Pose) ID() int { return p.id }

func (p *Pose) ForgetObservation(landmarkID int) { delete(p.obsIDs, landmarkID) }

// rememberObservation is called by the solver (not landmark) whenever it
// establishes a new observation link against this pose, keeping the
// back-set that ForgetObservation prunes consistent.
func (p *Pose) rememberObservation(landmarkID int) { p.obsIDs[landmarkID] = struct{}{} }
