package landmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePose struct {
	id        int
	forgotten []int
}

func (p *fakePose) ID() int { return p.id }
func (p *fakePose) ForgetObservation(landmarkID int) {
	p.forgotten = append(p.forgotten, landmarkID)
}

func TestPushAndPopObservation(t *testing.T) {
	l := &Landmark{ID: 7}
	p1, p2 := &fakePose{id: 1}, &fakePose{id: 2}
	l.PushObservation(0, &VisualObservation{Px: [2]float64{1, 1}, Pose: p1})
	l.PushObservation(0, &VisualObservation{Px: [2]float64{2, 2}, Pose: p2})

	require.Len(t, l.Observations(0), 2)
	assert.Equal(t, p2, l.LastObs[0].Pose)
	assert.Equal(t, p1, l.LastLastObs[0].Pose)

	popped := l.PopObservation(0)
	require.NotNil(t, popped)
	assert.Equal(t, p2, popped.Pose)
	assert.Len(t, l.Observations(0), 1)
	assert.Equal(t, p1, l.LastObs[0].Pose)
}

func TestRemoveLinksInCamStatesClearsBackReferences(t *testing.T) {
	l := &Landmark{ID: 42}
	p1, p2 := &fakePose{id: 1}, &fakePose{id: 2}
	l.PushObservation(0, &VisualObservation{Pose: p1})
	l.PushObservation(1, &VisualObservation{Pose: p2})

	l.RemoveLinksInCamStates()

	assert.Contains(t, p1.forgotten, 42)
	assert.Contains(t, p2.forgotten, 42)
	assert.Empty(t, l.Observations(0))
	assert.Empty(t, l.Observations(1))
}

func TestSetDeadFlagMarksDeadAllOnlyWhenBothCamerasDead(t *testing.T) {
	l := &Landmark{ID: 1}
	l.SetDeadFlag(0, 100)
	assert.True(t, l.FlagDead[0])
	assert.False(t, l.FlagDeadAll)

	l.SetDeadFlag(1, 101)
	assert.True(t, l.FlagDeadAll)
	assert.Equal(t, 100, l.FlagDeadFrame[0])
	assert.Equal(t, 101, l.FlagDeadFrame[1])
}
