package sensors

import (
	"testing"

	"github.com/relabs-tech/inertial_computer/internal/config"
	imu_raw "github.com/relabs-tech/inertial_computer/internal/imu"
	"github.com/stretchr/testify/assert"
)

func TestToInertialSampleConvertsCountsToSI(t *testing.T) {
	cfg := &config.Config{IMUAccelRange: 0, IMUGyroRange: 0} // +/-2g, +/-250dps
	raw := imu_raw.IMURaw{Source: "left", Az: 16384, Gx: 131}

	s := ToInertialSample(raw, cfg, 12345)

	assert.Equal(t, int64(12345), s.TimestampNs)
	assert.Equal(t, 0, s.SensorID)
	assert.InDelta(t, gravityMS2, s.Accel[2], 1e-6)
	assert.InDelta(t, 0.017453293, s.Gyro[0], 1e-6) // 1 deg/s in rad/s
}

func TestToInertialSampleTagsRightSensor(t *testing.T) {
	cfg := &config.Config{IMUAccelRange: 0, IMUGyroRange: 0}
	raw := imu_raw.IMURaw{Source: "right"}

	s := ToInertialSample(raw, cfg, 1)

	assert.Equal(t, 1, s.SensorID)
}
