package lock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/imu"
	"github.com/relabs-tech/gesture_lock/internal/recorder"
	"github.com/relabs-tech/gesture_lock/internal/sensors"
)

const waitFor = 5 * time.Second

var steady = imu.Sample{X: 100, Y: 200, Z: 300}

type switchOutput struct {
	mu      sync.Mutex
	history []bool
}

func (o *switchOutput) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, on)
	return nil
}

func (o *switchOutput) History() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.history...)
}

func (o *switchOutput) EverOn() bool {
	for _, on := range o.History() {
		if on {
			return true
		}
	}
	return false
}

type textDisplay struct {
	mu    sync.Mutex
	shown []string
}

func (d *textDisplay) Clear() error { return nil }

func (d *textDisplay) Show(lines ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, strings.Join(lines, " "))
	return nil
}

func (d *textDisplay) Shown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.shown...)
}

type eventLog struct {
	mu          sync.Mutex
	transitions []string
	recorded    []error
	outcomes    []gesture.Outcome
	faults      []error

	onRecorded func(n int, err error)
}

func (l *eventLog) StateChanged(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, from.String()+"->"+to.String())
}

func (l *eventLog) Recorded(n int, err error) {
	l.mu.Lock()
	l.recorded = append(l.recorded, err)
	hook := l.onRecorded
	l.mu.Unlock()
	if hook != nil {
		hook(n, err)
	}
}

func (l *eventLog) Compared(out gesture.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, out)
}

func (l *eventLog) Faulted(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, err)
}

func (l *eventLog) count(transition string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.transitions {
		if t == transition {
			n++
		}
	}
	return n
}

func (l *eventLog) Faults() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.faults...)
}

func (l *eventLog) Recordings() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.recorded...)
}

func testSettings() Settings {
	return Settings{
		SequenceLength: 10,
		RecordBudget:   time.Second,
		Tolerance:      1000,
		UnlockDwell:    20 * time.Millisecond,
		RecordSettle:   0,
		FaultBackoff:   5 * time.Millisecond,
	}
}

type lockTestCtx struct {
	flags   *events.Flags
	dev     *sensors.SimDevice
	link    *sensors.Link
	ctrl    *Controller
	record  *switchOutput
	unlock  *switchOutput
	display *textDisplay
	log     *eventLog
}

// newLockTestCtx wires a controller to a simulated gyroscope. When dataReady
// is false no data-ready events are ever produced.
func newLockTestCtx(t *testing.T, motion sensors.Motion, dataReady bool, hook func(c *lockTestCtx, n int, err error)) *lockTestCtx {
	c := &lockTestCtx{
		flags:   events.NewFlags(),
		dev:     sensors.NewSimDevice(motion),
		record:  &switchOutput{},
		unlock:  &switchOutput{},
		display: &textDisplay{},
		log:     &eventLog{},
	}
	if hook != nil {
		c.log.onRecorded = func(n int, err error) { hook(c, n, err) }
	}
	c.link = sensors.NewLink(c.dev, c.flags)
	c.link.Timeout = 5 * time.Millisecond
	c.link.Retries = 0

	rec := recorder.New(c.link, c.flags)
	rec.Period = time.Millisecond

	c.ctrl = New(c.link, rec, c.flags, testSettings(),
		WithRecordIndicator(c.record),
		WithUnlockIndicator(c.unlock),
		WithDisplay(c.display),
		WithObserver(c.log),
	)

	stop := make(chan struct{})
	if dataReady {
		go c.dev.RunDataReady(time.Millisecond, func() { c.flags.Set(events.DataReady) }, stop)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitFor):
			t.Error("controller did not stop")
		}
		close(stop)
		assert.Equal(t, false, last(c.unlock.History()), "unlock output left on")
	})
	return c
}

func last(h []bool) bool {
	if len(h) == 0 {
		return false
	}
	return h[len(h)-1]
}

func TestRecordThenUnlock(t *testing.T) {
	c := newLockTestCtx(t, sensors.ConstantMotion(steady), true, nil)

	require.True(t, c.ctrl.PressButton())
	require.Eventually(t, func() bool { return c.ctrl.Status().Unlocks >= 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return len(c.unlock.History()) >= 2 }, waitFor, time.Millisecond)

	assert.Equal(t, []bool{true, false}, c.unlock.History()[:2])
	assert.Equal(t, []bool{true, false}, c.record.History()[:2])
	assert.Contains(t, c.display.Shown(), "Unlocked")
	assert.GreaterOrEqual(t, c.log.count("comparing->unlocked"), 1)
	assert.GreaterOrEqual(t, c.log.count("unlocked->armed"), 1)

	st := c.ctrl.Status()
	assert.True(t, st.HasReference)
	assert.Empty(t, st.Fault)
	assert.Equal(t, []error{nil}, c.log.Recordings())
}

func TestPerturbedAxisDoesNotUnlock(t *testing.T) {
	c := newLockTestCtx(t, sensors.ConstantMotion(steady), true, func(c *lockTestCtx, _ int, err error) {
		if err == nil {
			c.dev.SetMotion(sensors.ConstantMotion(imu.Sample{X: 100, Y: 200 + 1500, Z: 300}))
		}
	})

	require.True(t, c.ctrl.PressButton())
	require.Eventually(t, func() bool { return c.ctrl.Status().Comparisons >= 3 }, waitFor, time.Millisecond)

	st := c.ctrl.Status()
	assert.Zero(t, st.Unlocks)
	assert.False(t, st.LastMatch)
	assert.False(t, c.unlock.EverOn())

	c.log.mu.Lock()
	out := c.log.outcomes[0]
	c.log.mu.Unlock()
	assert.True(t, out.Axes[imu.AxisX].OK)
	assert.False(t, out.Axes[imu.AxisY].OK)
	assert.InDelta(t, 1500, out.Axes[imu.AxisY].MeanDelta, 1e-9)
}

func TestReRecordReplacesReference(t *testing.T) {
	var recordings int
	c := newLockTestCtx(t, sensors.ConstantMotion(steady), true, func(c *lockTestCtx, _ int, err error) {
		if err != nil {
			return
		}
		recordings++
		// Candidates always differ from whichever reference was captured last.
		if recordings == 1 {
			c.dev.SetMotion(sensors.ConstantMotion(imu.Sample{X: 5000, Y: 200, Z: 300}))
		} else {
			c.dev.SetMotion(sensors.ConstantMotion(steady))
		}
	})

	require.True(t, c.ctrl.PressButton())
	require.Eventually(t, func() bool { return c.ctrl.Status().Comparisons >= 1 }, waitFor, time.Millisecond)
	assert.Zero(t, c.ctrl.Status().Unlocks)

	require.Eventually(t, c.ctrl.PressButton, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return len(c.log.Recordings()) == 2 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return c.ctrl.Status().Comparisons >= 3 }, waitFor, time.Millisecond)
	assert.Zero(t, c.ctrl.Status().Unlocks)
}

// gateRecorder blocks the first recording until released; later calls block
// until the context ends.
type gateRecorder struct {
	started chan struct{}
	release chan struct{}
	calls   int
}

func (g *gateRecorder) Record(ctx context.Context, _ time.Duration, target int) (*gesture.Sequence, error) {
	g.calls++
	if g.calls > 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	close(g.started)
	<-g.release
	seq := gesture.NewSequence(target)
	for !seq.Full() {
		_ = seq.Append(steady)
	}
	return seq, nil
}

type okSensor struct{}

func (okSensor) Configure(context.Context) error { return nil }

func TestButtonIgnoredWhileRecording(t *testing.T) {
	gate := &gateRecorder{started: make(chan struct{}), release: make(chan struct{})}
	log := &eventLog{}
	ctrl := New(okSensor{}, gate, events.NewFlags(), testSettings(), WithObserver(log))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.True(t, ctrl.PressButton())
	assert.False(t, ctrl.PressButton(), "second press before recording starts")

	select {
	case <-gate.started:
	case <-time.After(waitFor):
		t.Fatal("recording did not start")
	}
	assert.Equal(t, Recording, ctrl.Status().State)
	for i := 0; i < 5; i++ {
		assert.False(t, ctrl.PressButton())
	}

	close(gate.release)
	require.Eventually(t, func() bool { return ctrl.Status().State == Comparing }, waitFor, time.Millisecond)
	assert.Equal(t, 1, log.count("idle->recording"))
	assert.Len(t, log.Recordings(), 1)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestShortCaptureIsRejected(t *testing.T) {
	c := newLockTestCtx(t, sensors.ConstantMotion(steady), false, nil)

	require.True(t, c.ctrl.PressButton())
	require.Eventually(t, func() bool { return len(c.log.Recordings()) == 1 }, waitFor, time.Millisecond)
	require.ErrorIs(t, c.log.Recordings()[0], recorder.ErrShortCapture)

	require.Eventually(t, func() bool { return c.ctrl.Status().State == Idle }, waitFor, time.Millisecond)
	assert.False(t, c.ctrl.Status().HasReference)
	assert.Empty(t, c.log.Faults())
	assert.Contains(t, c.display.Shown(), "Too short, try again")
	require.Eventually(t, c.ctrl.PressButton, waitFor, time.Millisecond, "button accepted again")
}

func TestSensorFaultFallsBackAndRecovers(t *testing.T) {
	c := newLockTestCtx(t, sensors.ConstantMotion(steady), true, func(c *lockTestCtx, _ int, err error) {
		if err == nil {
			c.dev.SetMotion(sensors.ConstantMotion(imu.Sample{X: -4000, Y: 200, Z: 300}))
		}
	})

	require.True(t, c.ctrl.PressButton())
	require.Eventually(t, func() bool { return c.ctrl.Status().Comparisons >= 1 }, waitFor, time.Millisecond)

	c.dev.SetStalled(true)
	require.Eventually(t, func() bool { return len(c.log.Faults()) > 0 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, c.log.Faults()[0], sensors.ErrBusTimeout)
	require.Eventually(t, func() bool {
		st := c.ctrl.Status()
		return st.State == Idle && st.Fault != ""
	}, waitFor, time.Millisecond)
	assert.Contains(t, c.display.Shown(), "Sensor fault")

	c.dev.SetStalled(false)
	require.Eventually(t, func() bool {
		st := c.ctrl.Status()
		return st.Fault == "" && (st.State == Armed || st.State == Comparing)
	}, waitFor, time.Millisecond)

	assert.True(t, c.ctrl.Status().HasReference, "reference survives a fault")
	assert.False(t, c.unlock.EverOn(), "a fault never unlocks")
}

type flakySensor struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakySensor) Configure(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return sensors.ErrConfiguration
	}
	return nil
}

func TestInitialConfigurationRetries(t *testing.T) {
	sensor := &flakySensor{fails: 3}
	log := &eventLog{}
	configured := make(chan struct{}, 1)
	ctrl := New(sensor, &gateRecorder{}, events.NewFlags(), testSettings(),
		WithObserver(log),
		WithConfigured(func() { configured <- struct{}{} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	select {
	case <-configured:
	case <-time.After(waitFor):
		t.Fatal("sensor never configured")
	}
	require.Len(t, log.Faults(), 1)
	assert.True(t, errors.Is(log.Faults()[0], sensors.ErrConfiguration))
	require.Eventually(t, func() bool { return ctrl.Status().Fault == "" }, waitFor, time.Millisecond)
	assert.Equal(t, Idle, ctrl.Status().State)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	sensor.mu.Lock()
	assert.Equal(t, 4, sensor.calls)
	sensor.mu.Unlock()
}

func TestStateText(t *testing.T) {
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "state(9)", State(9).String())

	b, err := json.Marshal(Status{State: Unlocked})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"unlocked"`)

	var s State
	require.NoError(t, s.UnmarshalText([]byte("comparing")))
	assert.Equal(t, Comparing, s)
	assert.Error(t, s.UnmarshalText([]byte("open")))
}
