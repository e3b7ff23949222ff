package imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectStaticRequiresMinimumHistory(t *testing.T) {
	r := NewRingBuffer(256, nominalNoise())
	pushSteadyState(t, r, 50, 0, 5_000_000, [3]float64{}, [3]float64{0, 0, 9.81})

	idx, ok := r.Newest()
	require.True(t, ok)
	assert.False(t, r.DetectStatic(idx))
}

func TestDetectStaticTrueWhenStill(t *testing.T) {
	r := NewRingBuffer(256, nominalNoise())
	pushSteadyState(t, r, 150, 0, 5_000_000, [3]float64{}, [3]float64{0, 0, 9.81})

	idx, ok := r.Newest()
	require.True(t, ok)
	assert.True(t, r.DetectStatic(idx))
}

func TestDetectStaticFalseWhenMoving(t *testing.T) {
	r := NewRingBuffer(256, nominalNoise())
	ts := int64(0)
	for i := 0; i < 150; i++ {
		gyro := [3]float64{0.3, -0.2, 0.1}
		if i%2 == 1 {
			gyro = [3]float64{-0.3, 0.2, -0.1}
		}
		require.NoError(t, r.Push(Sample{TimestampNs: ts, Gyro: gyro, Accel: [3]float64{0, 0, 9.81}}))
		ts += 5_000_000
	}

	idx, ok := r.Newest()
	require.True(t, ok)
	assert.False(t, r.DetectStatic(idx))
}

func TestUpdateBiasByStaticSetsMeanGyro(t *testing.T) {
	r := NewRingBuffer(256, nominalNoise())
	ts := int64(0)
	wantBias := [3]float64{0.01, -0.02, 0.005}
	for i := 0; i < 150; i++ {
		require.NoError(t, r.Push(Sample{TimestampNs: ts, Gyro: wantBias, Accel: [3]float64{0, 0, 9.81}}))
		ts += 5_000_000
	}

	idx, _ := r.Newest()
	r.UpdateBiasByStatic(idx)

	bias := r.Bias()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, wantBias[i], bias.Gyro[i], 1e-9)
		assert.InDelta(t, 0, bias.Accel[i], 1e-9)
	}
}
