package orientation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularTrajectorySampleAtIsDeterministic(t *testing.T) {
	traj := CircularTrajectory{Radius: 2, AngularSpeed: 0.5}

	s1 := traj.SampleAt(1.0, 0)
	s2 := traj.SampleAt(1.0, 0)
	assert.Equal(t, s1, s2)
	assert.InDelta(t, 0.5, s1.Gyro[2], 1e-9)
	assert.InDelta(t, 9.81, s1.Accel[2], 1e-9)
}

func TestCircularTrajectoryPositionAtMatchesRadius(t *testing.T) {
	traj := CircularTrajectory{Radius: 3, AngularSpeed: 1.0}

	p := traj.PositionAt(0)
	assert.InDelta(t, 3, p[0], 1e-9)
	assert.InDelta(t, 0, p[1], 1e-9)

	p2 := traj.PositionAt(math.Pi / 2)
	assert.InDelta(t, 0, p2[0], 1e-9)
	assert.InDelta(t, 3, p2[1], 1e-9)
}

func TestGravityAttitudeLevelIsZero(t *testing.T) {
	pose := GravityAttitude([3]float64{0, 0, 9.81})
	assert.InDelta(t, 0, pose.Roll, 1e-6)
	assert.InDelta(t, 0, pose.Pitch, 1e-6)
}

func TestFromRotationIdentityIsZero(t *testing.T) {
	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	pose := FromRotation(identity)
	assert.InDelta(t, 0, pose.Roll, 1e-6)
	assert.InDelta(t, 0, pose.Pitch, 1e-6)
	assert.InDelta(t, 0, pose.Yaw, 1e-6)
}

func TestTiltCompensatedHeadingLevelAlignedWithX(t *testing.T) {
	heading := TiltCompensatedHeading([3]float64{0, 0, 9.81}, [3]float64{1, 0, 0})
	assert.InDelta(t, 0, heading, 1e-9)
}

func TestTiltCompensatedHeadingLevelAlignedWithY(t *testing.T) {
	heading := TiltCompensatedHeading([3]float64{0, 0, 9.81}, [3]float64{0, 1, 0})
	assert.InDelta(t, math.Pi/2, heading, 1e-9)
}

func TestGravityMagAttitudeCombinesTiltAndHeading(t *testing.T) {
	pose := GravityMagAttitude([3]float64{0, 0, 9.81}, [3]float64{0, 1, 0})
	assert.InDelta(t, 0, pose.Roll, 1e-6)
	assert.InDelta(t, 0, pose.Pitch, 1e-6)
	assert.InDelta(t, 90, pose.Yaw, 1e-6)
}
