package imu

import (
	"fmt"
	"sync"
)

// RingBuffer is a fixed-capacity circular buffer of inertial samples.
// Pushes come from a single producer goroutine; lookups (At, Preintegrate)
// are driven by the single VIO worker. Only the gravity estimate and the
// bias are guarded by a mutex — everything else relies on the
// single-producer/single-consumer ordering guarantee spec.md calls for.
type RingBuffer struct {
	buf   []Sample
	head  int // next write index
	tail  int // oldest valid index
	count int

	mu          sync.Mutex
	bias        Bias
	gravity     [3]float64
	haveGravity bool

	noiseCov [6]float64 // diag(sigma_g^2*fps, sigma_a^2*fps), 3 gyro + 3 accel
}

// NewRingBuffer allocates a buffer of the given capacity. capacity should be
// at least 10x the image rate times the inter-frame interval, per spec.md.
func NewRingBuffer(capacity int, noise NoiseParams) *RingBuffer {
	if capacity < 2 {
		capacity = 2
	}
	r := &RingBuffer{buf: make([]Sample, capacity)}
	gyroVar := noise.GyroNoise * noise.GyroNoise * float64(noise.IMUFPS)
	accVar := noise.AccNoise * noise.AccNoise * float64(noise.IMUFPS)
	for i := 0; i < 3; i++ {
		r.noiseCov[i] = gyroVar
		r.noiseCov[3+i] = accVar
	}
	return r
}

func (r *RingBuffer) cap() int { return len(r.buf) }

func (r *RingBuffer) physIndex(logical int) int {
	return (r.tail + logical) % r.cap()
}

// Push appends a sample. Timestamps must strictly increase; overflow
// silently discards the oldest sample as the tail advances.
func (r *RingBuffer) Push(s Sample) error {
	if r.count > 0 {
		last := r.buf[r.physIndex(r.count-1)]
		if s.TimestampNs <= last.TimestampNs {
			return fmt.Errorf("imu: non-monotonic sample timestamp %d <= %d", s.TimestampNs, last.TimestampNs)
		}
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % r.cap()
	if r.count == r.cap() {
		r.tail = (r.tail + 1) % r.cap()
	} else {
		r.count++
	}

	r.mu.Lock()
	if !r.haveGravity {
		r.gravity = s.Accel
		r.haveGravity = true
	} else {
		r.gravity = addVec3(scaleVec3(r.gravity, 0.95), scaleVec3(s.Accel, 0.05))
	}
	r.mu.Unlock()
	return nil
}

// Gravity returns the low-pass-filtered gravity estimate (alpha=0.05 EWMA).
func (r *RingBuffer) Gravity() [3]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gravity
}

// Bias returns the current additive bias.
func (r *RingBuffer) Bias() Bias {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bias
}

// UpdateBias applies an additive residual correction.
func (r *RingBuffer) UpdateBias(dBg, dBa [3]float64) {
	r.mu.Lock()
	r.bias.Gyro = addVec3(r.bias.Gyro, dBg)
	r.bias.Accel = addVec3(r.bias.Accel, dBa)
	r.mu.Unlock()
}

// SetBias overwrites the bias outright.
func (r *RingBuffer) SetBias(bg, ba [3]float64) {
	r.mu.Lock()
	r.bias.Gyro = bg
	r.bias.Accel = ba
	r.mu.Unlock()
}

// SetZeroBias resets both biases to zero.
func (r *RingBuffer) SetZeroBias() {
	r.SetBias([3]float64{}, [3]float64{})
}

// binarySearchLeft returns the logical index of the last sample with
// TimestampNs <= t, or -1 if t precedes the oldest retained sample.
func (r *RingBuffer) binarySearchLeft(t int64) int {
	if r.count == 0 {
		return -1
	}
	if t < r.buf[r.physIndex(0)].TimestampNs {
		return -1
	}
	lo, hi := 0, r.count-1
	result := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if r.buf[r.physIndex(mid)].TimestampNs <= t {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// Newest returns the most recently pushed sample's timestamp, or false if
// the buffer is empty.
func (r *RingBuffer) Newest() (int64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[r.physIndex(r.count-1)].TimestampNs, true
}

// DetectStatic reports whether the device was stationary over the window
// of samples immediately preceding t: it requires at least 100 retained
// samples (capped at the latest 200) and flags static only when both the
// mean accelerometer and gyro deviation stay below fixed thresholds.
func (r *RingBuffer) DetectStatic(t int64) bool {
	idx := r.binarySearchLeft(t)
	if idx < 0 {
		return false
	}
	n := idx + 1
	if n < 100 {
		return false
	}
	if n > 200 {
		n = 200
	}
	start := idx - n + 1

	var meanAcc, meanGyro [3]float64
	for i := 0; i < n; i++ {
		s := r.buf[r.physIndex(start+i)]
		meanAcc = addVec3(meanAcc, s.Accel)
		meanGyro = addVec3(meanGyro, s.Gyro)
	}
	meanAcc = scaleVec3(meanAcc, 1/float64(n))
	meanGyro = scaleVec3(meanGyro, 1/float64(n))

	var aDiv, gDiv float64
	for i := 0; i < n; i++ {
		s := r.buf[r.physIndex(start+i)]
		aDiv += norm3(subVec3(s.Accel, meanAcc))
		gDiv += norm3(subVec3(s.Gyro, meanGyro))
	}
	aDiv /= float64(n)
	gDiv /= float64(n)

	const gDivThresh = 0.04
	const aDivThresh = 0.5
	return gDiv < gDivThresh && aDiv < aDivThresh
}

// UpdateBiasByStatic resets the gyro bias to the mean gyro reading over the
// up-to-100 samples preceding t, leaving the accelerometer bias at zero, per
// the static-frame bias-reset behavior DetectStatic gates.
func (r *RingBuffer) UpdateBiasByStatic(t int64) {
	idx := r.binarySearchLeft(t)
	if idx < 0 {
		return
	}
	n := idx
	if n <= 0 {
		return
	}
	if n > 100 {
		n = 100
	}
	start := idx - n

	var sumGyro [3]float64
	for i := 0; i < n; i++ {
		sumGyro = addVec3(sumGyro, r.buf[r.physIndex(start+i)].Gyro)
	}
	meanGyro := scaleVec3(sumGyro, 1/float64(n))
	r.SetBias(meanGyro, [3]float64{})
}

// At returns the sample at time t by linear interpolation between the two
// bracketing samples, following RingBuffer.binarySearchLeft semantics.
func (r *RingBuffer) At(t int64) (Sample, error) {
	idx := r.binarySearchLeft(t)
	if idx < 0 {
		return Sample{}, fmt.Errorf("imu: timestamp %d precedes oldest retained sample", t)
	}
	left := r.buf[r.physIndex(idx)]
	if left.TimestampNs == t || idx == r.count-1 {
		return left, nil
	}
	right := r.buf[r.physIndex(idx + 1)]
	k := float64(t-left.TimestampNs) / float64(right.TimestampNs-left.TimestampNs)
	return Sample{
		TimestampNs: t,
		Gyro:        lerpVec3(left.Gyro, right.Gyro, k),
		Accel:       lerpVec3(left.Accel, right.Accel, k),
		SensorID:    left.SensorID,
	}, nil
}
