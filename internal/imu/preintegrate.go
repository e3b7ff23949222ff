package imu

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Preintegrate accumulates inertial samples between t0 and t1 (exclusive of
// earlier history, inclusive of both endpoints via linear interpolation at
// the boundary) into out, following ImuBuffer.cpp's ImuPreIntegration: the
// first and last sub-interval interpolate toward t0/t1, every interior
// sub-interval averages its two bracketing samples.
//
// If serial is false, Preintegrate blocks (retrying every 10ms, up to 20
// times) waiting for a sample past t1 to arrive; if serial is true it
// returns an error immediately instead of waiting, since a serial-run
// caller drives the IMU and image streams in lockstep and a wait would
// deadlock. cancel aborts an in-progress wait early.
func (r *RingBuffer) Preintegrate(t0, t1 int64, out *Delta, serial bool, cancel <-chan struct{}) error {
	if t0 >= t1 {
		return fmt.Errorf("imu: preintegrate requires t0 < t1, got t0=%d t1=%d", t0, t1)
	}

	idx0 := r.binarySearchLeft(t0)
	if idx0 < 0 {
		return fmt.Errorf("imu: t0=%d precedes oldest retained sample", t0)
	}

	idx1, err := r.waitForTimestamp(t1, serial, cancel)
	if err != nil {
		return err
	}

	out.Reset()
	out.T0, out.T1 = t0, t1

	dR0 := identity3()
	dV0 := [3]float64{}

	A := identity9()
	B := mat.NewDense(9, 6, nil)
	noiseCov := diag6(r.noiseCov)

	for i := idx0; i <= idx1; i++ {
		cur := r.buf[r.physIndex(i)]
		next := r.buf[r.physIndex(i+1)]

		var dtNs int64
		var gyro, acc [3]float64

		switch {
		case i == idx0:
			dtNs = next.TimestampNs - t0
			k := float64(next.TimestampNs-t0) / float64(next.TimestampNs-cur.TimestampNs)
			gyro = lerpVec3(cur.Gyro, next.Gyro, 1-k)
			acc = lerpVec3(cur.Accel, next.Accel, 1-k)
		case i == idx1:
			dtNs = t1 - cur.TimestampNs
			k := float64(next.TimestampNs-t1) / float64(next.TimestampNs-cur.TimestampNs)
			gyro = lerpVec3(cur.Gyro, next.Gyro, k)
			acc = lerpVec3(cur.Accel, next.Accel, k)
		default:
			dtNs = next.TimestampNs - cur.TimestampNs
			gyro = scaleVec3(addVec3(cur.Gyro, next.Gyro), 0.5)
			acc = scaleVec3(addVec3(cur.Accel, next.Accel), 0.5)
		}
		out.SensorID = cur.SensorID

		bias := r.Bias()
		gyro = subVec3(gyro, bias.Gyro)
		acc = subVec3(acc, bias.Accel)

		dt := float64(dtNs) * 1e-9
		if dt <= 0 {
			continue
		}

		ddV0 := scaleVec3(acc, dt)
		ddR0 := scaleVec3(gyro, dt)
		ddR := expSO3(ddR0)

		// A.topLeftCorner<3,3>() = ddR^T
		setBlock(A, 0, 0, ddR.T())

		// A.block<3,3>(3,0) = -dR0 * crossMat(ddV0)
		var negDr0Cross mat.Dense
		negDr0Cross.Mul(dR0, crossMat(ddV0))
		negDr0Cross.Scale(-1, &negDr0Cross)
		setBlock(A, 3, 0, &negDr0Cross)

		// A.bottomLeftCorner<3,3>() rows(6:8) = 0.5*dt*A.block<3,3>(3,0)
		var bottomLeft mat.Dense
		bottomLeft.Scale(0.5*dt, &negDr0Cross)
		setBlock(A, 6, 0, &bottomLeft)

		// A.block<3,3>(6,3) = I*dt
		setBlock(A, 6, 3, scaledIdentity3(dt))

		// B.topLeftCorner<3,3>() = vector2Jac(ddR0)*dt
		var bGyro mat.Dense
		bGyro.Scale(dt, vector2Jac(ddR0))
		setBlock(B, 0, 0, &bGyro)

		// B.block<3,3>(3,3) = dR0*dt
		var bAccV mat.Dense
		bAccV.Scale(dt, dR0)
		setBlock(B, 3, 3, &bAccV)

		// B.block<3,3>(6,3) = dR0*(0.5*dt*dt)
		var bAccP mat.Dense
		bAccP.Scale(0.5*dt*dt, dR0)
		setBlock(B, 6, 3, &bAccP)

		// cov = A*cov*A^T + B*noiseCov*B^T
		var aCov, aCovAt mat.Dense
		aCov.Mul(A, out.Cov)
		aCovAt.Mul(&aCov, A.T())

		var bNoise, bNoiseBt mat.Dense
		bNoise.Mul(B, noiseCov)
		bNoiseBt.Mul(&bNoise, B.T())

		out.Cov.Add(&aCovAt, &bNoiseBt)

		// dRdg -= ddR^T * vector2Jac(ddR0) * dt
		var dRdgDelta mat.Dense
		dRdgDelta.Mul(ddR.T(), vector2Jac(ddR0))
		dRdgDelta.Scale(dt, &dRdgDelta)
		out.DRdBg.Sub(out.DRdBg, &dRdgDelta)

		// dVda -= dR0*dt
		var dVdaDelta mat.Dense
		dVdaDelta.Scale(dt, dR0)
		out.DVdBa.Sub(out.DVdBa, &dVdaDelta)

		// dVdg -= dR0*crossMat(ddV0)*dRdg   (using the just-updated dRdg)
		var dVdgDelta mat.Dense
		dVdgDelta.Mul(dR0, crossMat(ddV0))
		dVdgDelta.Mul(&dVdgDelta, out.DRdBg)
		out.DVdBg.Sub(out.DVdBg, &dVdgDelta)

		// dPda -= 1.5*dR0*dt*dt
		var dPdaDelta mat.Dense
		dPdaDelta.Scale(1.5*dt*dt, dR0)
		out.DPdBa.Sub(out.DPdBa, &dPdaDelta)

		// dPdg -= 1.5*dR0*crossMat(ddV0)*dRdg*dt
		var dPdgDelta mat.Dense
		dPdgDelta.Mul(dR0, crossMat(ddV0))
		dPdgDelta.Mul(&dPdgDelta, out.DRdBg)
		dPdgDelta.Scale(1.5*dt, &dPdgDelta)
		out.DPdBg.Sub(out.DPdBg, &dPdgDelta)

		// state propagation, using the pre-update dR0/dV0
		ddV := mulMat3Vec3(dR0, acc)
		ddV = scaleVec3(ddV, dt)

		out.DP = addVec3(out.DP, scaleVec3(dV0, dt))
		out.DP = addVec3(out.DP, scaleVec3(ddV, 0.5*dt))

		var newDR0 mat.Dense
		newDR0.Mul(dR0, ddR)
		dR0 = &newDR0

		dV0 = addVec3(dV0, ddV)

		out.DT += dtNs
	}

	out.DR = dR0
	out.DV = dV0

	return nil
}

func (r *RingBuffer) waitForTimestamp(t1 int64, serial bool, cancel <-chan struct{}) (int, error) {
	const maxRetries = 20
	const retryDelay = 10 * time.Millisecond

	for tries := 0; ; tries++ {
		newest, ok := r.Newest()
		if ok && newest > t1 {
			return r.binarySearchLeft(t1), nil
		}
		if serial {
			return -1, fmt.Errorf("imu: IMU stream has not reached t1=%d (newest=%d) in serial mode", t1, newest)
		}
		if tries >= maxRetries {
			return -1, fmt.Errorf("imu: timed out after %d retries waiting for IMU to reach t1=%d", maxRetries, t1)
		}
		select {
		case <-cancel:
			return -1, fmt.Errorf("imu: preintegration canceled waiting for t1=%d", t1)
		case <-time.After(retryDelay):
		}
	}
}

func identity9() *mat.Dense {
	m := mat.NewDense(9, 9, nil)
	for i := 0; i < 9; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func scaledIdentity3(s float64) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, s)
	m.Set(1, 1, s)
	m.Set(2, 2, s)
	return m
}

func diag6(v [6]float64) *mat.Dense {
	m := mat.NewDense(6, 6, nil)
	for i, x := range v {
		m.Set(i, i, x)
	}
	return m
}

// setBlock copies src into dst at row/col offset (r0, c0).
func setBlock(dst *mat.Dense, r0, c0 int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r0+i, c0+j, src.At(i, j))
		}
	}
}
