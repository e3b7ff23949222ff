package imu

const (
	staticGyroThreshold  = 0.04 // rad/s, peak-to-peak over the detection window
	staticAccelThreshold = 0.5  // m/s^2, peak-to-peak over the detection window
	staticWindowSamples  = 200
)

// DetectStatic reports whether the most recent staticWindowSamples readings
// are consistent with the platform being stationary: gyro and accelerometer
// excursions both stay within their respective thresholds. It is used to
// gate zero-velocity bias updates and should not be called concurrently
// with Push on the same RingBuffer without external synchronization beyond
// what RingBuffer itself provides (DetectStatic only reads buf/count, which
// a single VIO-worker caller owns).
func (r *RingBuffer) DetectStatic() bool {
	if r.count < staticWindowSamples {
		return false
	}

	start := r.count - staticWindowSamples
	minG, maxG := r.buf[r.physIndex(start)].Gyro, r.buf[r.physIndex(start)].Gyro
	minA, maxA := r.buf[r.physIndex(start)].Accel, r.buf[r.physIndex(start)].Accel

	for i := start; i < r.count; i++ {
		s := r.buf[r.physIndex(i)]
		for k := 0; k < 3; k++ {
			if s.Gyro[k] < minG[k] {
				minG[k] = s.Gyro[k]
			}
			if s.Gyro[k] > maxG[k] {
				maxG[k] = s.Gyro[k]
			}
			if s.Accel[k] < minA[k] {
				minA[k] = s.Accel[k]
			}
			if s.Accel[k] > maxA[k] {
				maxA[k] = s.Accel[k]
			}
		}
	}

	for k := 0; k < 3; k++ {
		if maxG[k]-minG[k] > staticGyroThreshold {
			return false
		}
		if maxA[k]-minA[k] > staticAccelThreshold {
			return false
		}
	}
	return true
}

// UpdateBiasByStatic sets the gyro bias to the window average and the
// accelerometer bias to the window average minus the current gravity
// estimate, rejecting the update unless DetectStatic holds. It is the
// zero-velocity-update fallback used when no recent visual correction is
// available to observe the bias.
func (r *RingBuffer) UpdateBiasByStatic() bool {
	if !r.DetectStatic() {
		return false
	}

	start := r.count - staticWindowSamples
	var sumG, sumA [3]float64
	for i := start; i < r.count; i++ {
		s := r.buf[r.physIndex(i)]
		sumG = addVec3(sumG, s.Gyro)
		sumA = addVec3(sumA, s.Accel)
	}
	n := float64(staticWindowSamples)
	avgG := scaleVec3(sumG, 1/n)
	avgA := scaleVec3(sumA, 1/n)

	gravity := r.Gravity()
	r.SetBias(avgG, subVec3(avgA, gravity))
	return true
}
