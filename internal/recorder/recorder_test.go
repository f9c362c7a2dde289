package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/imu"
	"github.com/relabs-tech/gesture_lock/internal/sensors"
)

type recorderTestCtx struct {
	flags *events.Flags
	dev   *sensors.SimDevice
	link  *sensors.Link
	stop  chan struct{}
}

func newRecorderTestCtx(t *testing.T, motion sensors.Motion) *recorderTestCtx {
	c := &recorderTestCtx{
		flags: events.NewFlags(),
		dev:   sensors.NewSimDevice(motion),
		stop:  make(chan struct{}),
	}
	c.link = sensors.NewLink(c.dev, c.flags)
	require.NoError(t, c.link.Configure(context.Background()))
	go c.dev.RunDataReady(time.Millisecond, func() { c.flags.Set(events.DataReady) }, c.stop)
	t.Cleanup(func() { close(c.stop) })
	return c
}

func TestRecordUnlimitedBudgetReachesTarget(t *testing.T) {
	c := newRecorderTestCtx(t, sensors.ConstantMotion(imu.Sample{X: 100, Y: 200, Z: 300}))
	r := New(c.link, c.flags)
	r.Period = 2 * time.Millisecond

	seq, err := r.Record(context.Background(), 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, seq.Len())
	assert.True(t, seq.Full())
	assert.Equal(t, imu.Sample{X: 100, Y: 200, Z: 300}, seq.At(49))
	assert.Equal(t, 50, c.dev.AxisReads())
}

func TestRecordReferenceCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("takes 2.5s")
	}
	c := newRecorderTestCtx(t, nil)
	r := New(c.link, c.flags)

	seq, err := r.Record(context.Background(), 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, seq.Len())
}

func TestRecordBudgetShorterThanTarget(t *testing.T) {
	c := newRecorderTestCtx(t, nil)
	r := New(c.link, c.flags)
	r.Period = 10 * time.Millisecond

	// 50 samples need at least 490ms at this period.
	seq, err := r.Record(context.Background(), 100*time.Millisecond, 50)
	require.ErrorIs(t, err, ErrShortCapture)
	require.NotNil(t, seq)
	assert.Less(t, seq.Len(), 50)
	assert.Greater(t, seq.Len(), 0)
}

func TestRecordWithoutDataReadyTimesOut(t *testing.T) {
	flags := events.NewFlags()
	dev := sensors.NewSimDevice(nil)
	r := New(sensors.NewLink(dev, flags), flags)

	start := time.Now()
	seq, err := r.Record(context.Background(), 30*time.Millisecond, 50)
	require.ErrorIs(t, err, ErrShortCapture)
	assert.True(t, seq.Empty())
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, dev.AxisReads(), "no bus read without a data-ready event")
}

func TestRecordPropagatesBusTimeout(t *testing.T) {
	c := newRecorderTestCtx(t, nil)
	c.link.Timeout = 5 * time.Millisecond
	c.link.Retries = 0
	c.dev.SetStalled(true)

	r := New(c.link, c.flags)
	seq, err := r.Record(context.Background(), 0, 50)
	require.ErrorIs(t, err, sensors.ErrBusTimeout)
	assert.True(t, seq.Empty())
}

func TestRecordCancel(t *testing.T) {
	flags := events.NewFlags()
	r := New(sensors.NewLink(sensors.NewSimDevice(nil), flags), flags)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Record(ctx, 0, 50)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.NotErrorIs(t, err, ErrShortCapture)
}
