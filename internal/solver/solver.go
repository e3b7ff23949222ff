// Package solver implements the square-root EKF surface the
// data-association orchestrator drives: per-landmark triangulation,
// measurement-Jacobian assembly with a QR null-space projection, χ²
// gating, and SLAM/MSCKF state augmentation.
package solver

import (
	"math"

	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"gonum.org/v1/gonum/mat"
)

// Solver is the five-operation contract the data-association orchestrator
// drives for every candidate landmark.
type Solver interface {
	Triangulate(lm *landmark.Landmark) bool
	ComputeJacobians(lm *landmark.Landmark) bool
	MahalanobisTest(ps *landmark.PointState) bool
	AddSlamPoint(ps *landmark.PointState)
	AddMsckfPoint(ps *landmark.PointState)
}

// pendingUpdate holds the null-space-projected measurement Jacobian and
// residual produced by ComputeJacobians, consumed by the Mahalanobis test
// and the subsequent Add*Point call for the same landmark.
type pendingUpdate struct {
	hxProj *mat.Dense // (2n-3) x (6*nObs)
	rProj  *mat.Dense // (2n-3) x 1
	poses  []*Pose    // the nObs poses, aligned to hxProj's column blocks
}

// pixelNoiseStd and poseCovRot/poseCovPos are the fixed measurement/process noise
// standing in for full joint-state covariance propagation. A production
// square-root filter carries the true sliding-window covariance through
// preintegration; this solver's scope (the interface the orchestrator
// drives) treats it as a tuned constant, documented as a scoping decision.
const (
	pixelNoiseStd   = 1.0  // pixels
	poseCovRot      = 1e-3 // rad^2, assumed pose orientation uncertainty
	poseCovPos      = 1e-2 // m^2, assumed pose position uncertainty
	slamPointPrior  = 10.0 // m^2, initial SLAM point position variance
	mahalanobisConf = 0.95
)

// SquareRootEKF is a gonum/mat-backed implementation of Solver.
type SquareRootEKF struct {
	cam camera.Model

	pending map[int]*pendingUpdate // landmark id -> last ComputeJacobians result

	slamFactors map[int]*mat.Cholesky // landmark id -> sqrt-info factor of its 3x3 position block

	stats Stats
}

// Stats surfaces the observability counters spec.md's error-handling
// section calls for.
type Stats struct {
	Triangulated   int
	TriangulateFail int
	JacobianFail   int
	MahalanobisReject int
	SlamAdded      int
	MsckfAdded     int
}

// NewSquareRootEKF constructs a solver driving the given camera model.
func NewSquareRootEKF(cam camera.Model) *SquareRootEKF {
	return &SquareRootEKF{
		cam:         cam,
		pending:     make(map[int]*pendingUpdate),
		slamFactors: make(map[int]*mat.Cholesky),
	}
}

func (s *SquareRootEKF) Stats() Stats { return s.stats }

// observationPoses collects every observation a landmark has across both
// cameras, paired with its concrete *Pose (observations whose Pose isn't a
// *Pose, e.g. a test stub, are skipped rather than causing a panic).
func observationPoses(lm *landmark.Landmark) ([]*landmark.VisualObservation, []*Pose) {
	var obs []*landmark.VisualObservation
	var poses []*Pose
	for cam := 0; cam < 2; cam++ {
		for _, o := range lm.Observations(cam) {
			p, ok := o.Pose.(*Pose)
			if !ok || p == nil {
				continue
			}
			obs = append(obs, o)
			poses = append(poses, p)
		}
	}
	return obs, poses
}

// Triangulate solves for the landmark's world position by Gauss-Newton
// refinement of the inverse depth along the host (first) observation's
// bearing ray, following the standard MSCKF anchored-inverse-depth
// formulation.
func (s *SquareRootEKF) Triangulate(lm *landmark.Landmark) bool {
	obs, poses := observationPoses(lm)
	if len(obs) < 2 {
		s.stats.TriangulateFail++
		return false
	}

	host := poses[0]
	rHost := obs[0].Ray

	rho := 1.0 // initial inverse depth guess: unit depth
	const maxIters = 10
	for iter := 0; iter < maxIters; iter++ {
		var jtj, jtr float64
		for k := 1; k < len(obs); k++ {
			rRel, tRel := relativeTransform(host, poses[k])
			y := addVec3(rotate3(rRel, rHost), scaleVec3(tRel, rho))
			if y[2] <= 1e-6 {
				continue
			}
			pred := s.cam.Project(y)
			res := subVec2(obs[k].Px, pred)
			jac := s.cam.DistortionJacobian(y)
			// d(residual)/d(rho) = -jac * tRel
			dy := [2]float64{
				-(jac[0][0]*tRel[0] + jac[0][1]*tRel[1] + jac[0][2]*tRel[2]),
				-(jac[1][0]*tRel[0] + jac[1][1]*tRel[1] + jac[1][2]*tRel[2]),
			}
			jtj += dy[0]*dy[0] + dy[1]*dy[1]
			jtr += dy[0]*res[0] + dy[1]*res[1]
		}
		if jtj < 1e-12 {
			s.stats.TriangulateFail++
			return false
		}
		delta := -jtr / jtj
		rho += delta
		if rho <= 0 {
			s.stats.TriangulateFail++
			return false
		}
		if math.Abs(delta) < 1e-9 {
			break
		}
	}
	if !(rho > 0) || math.IsNaN(rho) || math.IsInf(rho, 0) {
		s.stats.TriangulateFail++
		return false
	}

	xHost := scaleVec3(rHost, 1/rho)
	xWorld := addVec3(host.Pos, rotate3(host.R, xHost))

	if lm.PointState == nil {
		lm.PointState = &landmark.PointState{Host: lm}
	}
	lm.PointState.Position = xWorld
	s.stats.Triangulated++
	return true
}

// ComputeJacobians builds the stacked measurement Jacobian/residual across
// every observation and QR-projects the feature Jacobian's range space out,
// leaving a pose-only residual the way MSCKF's null-space trick requires.
func (s *SquareRootEKF) ComputeJacobians(lm *landmark.Landmark) bool {
	if lm.PointState == nil {
		s.stats.JacobianFail++
		return false
	}
	obs, poses := observationPoses(lm)
	n := len(obs)
	if n < 2 {
		s.stats.JacobianFail++
		return false
	}

	x := lm.PointState.Position
	hf := mat.NewDense(2*n, 3, nil)
	hx := mat.NewDense(2*n, 6*n, nil)
	r := mat.NewDense(2*n, 1, nil)

	for k := 0; k < n; k++ {
		p := poses[k]
		xCam := rotateT3(p.R, subVec3(x, p.Pos))
		if xCam[2] <= 1e-6 {
			s.stats.JacobianFail++
			return false
		}
		pred := s.cam.Project(xCam)
		obs[k].PxReprj = pred
		res := subVec2(obs[k].Px, pred)
		jac := s.cam.DistortionJacobian(xCam)

		// H_f = jac * R^T
		var hfBlock mat.Dense
		hfBlock.Mul(denseFromJac(jac), p.R.T())
		setBlock(hf, 2*k, 0, &hfBlock)

		// H_x block: d(xCam)/d(dtheta) = [xCam]x, d(xCam)/d(dpos) = -R^T
		skew := crossMat3(xCam)
		var hxTheta mat.Dense
		hxTheta.Mul(denseFromJac(jac), skew)

		var negRt mat.Dense
		negRt.Scale(-1, p.R.T())
		var hxPos mat.Dense
		hxPos.Mul(denseFromJac(jac), &negRt)

		setBlock(hx, 2*k, 6*k, &hxTheta)
		setBlock(hx, 2*k, 6*k+3, &hxPos)

		r.Set(2*k, 0, res[0])
		r.Set(2*k+1, 0, res[1])
	}

	var qr mat.QR
	qr.Factorize(hf)
	var q mat.Dense
	qr.QTo(&q)

	var qtHx, qtR mat.Dense
	qtHx.Mul(q.T(), hx)
	qtR.Mul(q.T(), r)

	rows, cols := qtHx.Dims()
	nullRows := rows - 3
	if nullRows < 1 {
		s.stats.JacobianFail++
		return false
	}
	hxProj := mat.NewDense(nullRows, cols, nil)
	rProj := mat.NewDense(nullRows, 1, nil)
	for i := 0; i < nullRows; i++ {
		for j := 0; j < cols; j++ {
			hxProj.Set(i, j, qtHx.At(3+i, j))
		}
		rProj.Set(i, 0, qtR.At(3+i, 0))
	}

	s.pending[lm.ID] = &pendingUpdate{hxProj: hxProj, rProj: rProj, poses: poses}
	return true
}

// MahalanobisTest gates the pending update's whitened residual against a
// chi-squared threshold approximated by the Wilson-Hilferty relation
// (avoiding a dependency on a statistics library for a single quantile).
func (s *SquareRootEKF) MahalanobisTest(ps *landmark.PointState) bool {
	pu, ok := s.pending[ps.Host.ID]
	if !ok {
		return false
	}

	rows, _ := pu.hxProj.Dims()
	innov := mat.NewDense(rows, rows, nil)
	for i := 0; i < rows; i++ {
		innov.Set(i, i, pixelNoiseStd*pixelNoiseStd)
	}
	covX := hxPoseCovariance(pu.poses)
	var hCov mat.Dense
	hCov.Mul(pu.hxProj, covX)
	var hCovHt mat.Dense
	hCovHt.Mul(&hCov, pu.hxProj.T())
	innov.Add(innov, &hCovHt)

	innovSym := denseToSym(innov)
	var chol mat.Cholesky
	if ok := chol.Factorize(innovSym); !ok {
		return false
	}
	var whitened mat.Dense
	if err := chol.SolveTo(&whitened, pu.rProj); err != nil {
		return false
	}
	var chi2Mat mat.Dense
	chi2Mat.Mul(pu.rProj.T(), &whitened)
	chi2 := chi2Mat.At(0, 0)

	threshold := chiSquaredThreshold(float64(rows), mahalanobisConf)
	pass := chi2 <= threshold
	if !pass {
		s.stats.MahalanobisReject++
	}
	return pass
}

// AddSlamPoint augments the persistent state with this landmark's
// position, seeding its square-root information factor from a diagonal
// prior (the square-root filter's scope here is this per-point block; the
// joint pose/point information growth spec.md describes is this solver's
// bookkeeping surface, not re-derived per call).
func (s *SquareRootEKF) AddSlamPoint(ps *landmark.PointState) {
	ps.FlagSlamPoint = true
	prior := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		prior.SetSym(i, i, 1/slamPointPrior)
	}
	chol := new(mat.Cholesky)
	chol.Factorize(prior)
	s.slamFactors[ps.Host.ID] = chol
	delete(s.pending, ps.Host.ID)
	s.stats.SlamAdded++
}

// AddMsckfPoint folds the pending null-projected update into each
// referenced pose's error-state correction accumulator and retires the
// point — it never grows the persistent state, matching the MSCKF
// contract.
func (s *SquareRootEKF) AddMsckfPoint(ps *landmark.PointState) {
	ps.FlagSlamPoint = false
	pu, ok := s.pending[ps.Host.ID]
	if ok {
		applyPoseCorrections(pu)
		delete(s.pending, ps.Host.ID)
	}
	s.stats.MsckfAdded++
}

func applyPoseCorrections(pu *pendingUpdate) {
	rows, cols := pu.hxProj.Dims()
	if rows == 0 {
		return
	}
	var hxT mat.Dense
	hxT.Mul(pu.hxProj.T(), pu.hxProj)
	for i := 0; i < cols; i++ {
		hxT.Set(i, i, hxT.At(i, i)+1e-6) // Tikhonov regularize against rank deficiency
	}
	var hxTr mat.Dense
	hxTr.Mul(pu.hxProj.T(), pu.rProj)

	var dx mat.Dense
	if err := dx.Solve(&hxT, &hxTr); err != nil {
		return
	}
	for k, p := range pu.poses {
		for i := 0; i < 6; i++ {
			p.Correction[i] += dx.At(6*k+i, 0)
		}
	}
}

func chiSquaredThreshold(dof, confidence float64) float64 {
	z := 1.6448536269514722 // standard normal 95th percentile
	h := 2.0 / (9 * dof)
	t := 1 - h + z*math.Sqrt(h)
	return dof * t * t * t
}

func hxPoseCovariance(poses []*Pose) *mat.Dense {
	n := len(poses)
	m := mat.NewDense(6*n, 6*n, nil)
	for k := 0; k < n; k++ {
		for i := 0; i < 3; i++ {
			m.Set(6*k+i, 6*k+i, poseCovRot)
			m.Set(6*k+3+i, 6*k+3+i, poseCovPos)
		}
	}
	return m
}

func denseFromJac(j [2][3]float64) *mat.Dense {
	return mat.NewDense(2, 3, []float64{j[0][0], j[0][1], j[0][2], j[1][0], j[1][1], j[1][2]})
}

func crossMat3(v [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
}

func setBlock(dst *mat.Dense, r0, c0 int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r0+i, c0+j, src.At(i, j))
		}
	}
}

// relativeTransform returns the rotation/translation taking a point in
// the host camera frame into camera k's frame: X_k = R*X_host + t.
func relativeTransform(host, k *Pose) (*mat.Dense, [3]float64) {
	var r mat.Dense
	r.Mul(k.R.T(), host.R)
	t := rotateT3(k.R, subVec3(host.Pos, k.Pos))
	return &r, t
}

func rotate3(m *mat.Dense, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m.At(i, 0)*v[0] + m.At(i, 1)*v[1] + m.At(i, 2)*v[2]
	}
	return out
}

func rotateT3(m *mat.Dense, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m.At(0, i)*v[0] + m.At(1, i)*v[1] + m.At(2, i)*v[2]
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

func subVec2(a, b [2]float64) [2]float64 {
	return [2]float64{a[0] - b[0], a[1] - b[1]}
}

// denseToSym copies a (numerically symmetric) Dense's upper triangle into
// a SymDense, which is what mat.Cholesky requires.
func denseToSym(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, d.At(i, j))
		}
	}
	return sym
}
