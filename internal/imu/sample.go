package imu

// Sample is a single timestamped inertial reading consumed by the VIO
// preintegrator. TimestampNs must be strictly increasing across pushes to
// the same RingBuffer.
type Sample struct {
	TimestampNs int64
	Gyro        [3]float64 // rad/s
	Accel       [3]float64 // m/s^2
	SensorID    int
}

// Bias holds the additive gyro/accelerometer bias estimate owned by a
// RingBuffer and updated by the filter's residuals.
type Bias struct {
	Gyro  [3]float64
	Accel [3]float64
}

// NoiseParams are the continuous-time noise densities used to build the
// preintegration noise covariance, sampled at the nominal IMU rate.
type NoiseParams struct {
	GyroNoise float64
	AccNoise  float64
	IMUFPS    int
}
