package gesture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_lock/internal/imu"
)

func TestSequenceAppend(t *testing.T) {
	s := NewSequence(3)
	assert.True(t, s.Empty())
	assert.False(t, s.Full())
	assert.Equal(t, 3, s.Cap())

	require.NoError(t, s.Append(imu.Sample{X: 1, Y: -2, Z: 3}))
	require.NoError(t, s.Append(imu.Sample{X: 4, Y: -5, Z: 6}))
	assert.False(t, s.Empty())
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Append(imu.Sample{X: 7, Y: -8, Z: 9}))
	assert.True(t, s.Full())
	require.ErrorIs(t, s.Append(imu.Sample{}), ErrSequenceFull)

	assert.Equal(t, []int16{1, 4, 7}, s.Axis(imu.AxisX))
	assert.Equal(t, []int16{-2, -5, -8}, s.Axis(imu.AxisY))
	assert.Equal(t, []int16{3, 6, 9}, s.Axis(imu.AxisZ))
	assert.Equal(t, imu.Sample{X: 4, Y: -5, Z: 6}, s.At(1))
}

func TestSequenceCloneIsDeep(t *testing.T) {
	s := SequenceOf(imu.Sample{X: 1}, imu.Sample{X: 2})
	c := s.Clone()
	s.Reset()

	assert.True(t, s.Empty())
	assert.Equal(t, 2, s.Cap())
	assert.Equal(t, []int16{1, 2}, c.Axis(imu.AxisX))
	assert.True(t, c.Full())
}
