// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lock implements the gesture lock state machine.
//
// A single foreground goroutine (Controller.Run) owns every decision and all
// mutable controller state. Interrupt-style producers only latch event flags;
// the button path additionally performs one compare-and-swap on the recording
// flag so a press during a recording is dropped.
package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/recorder"
)

// Sensor is the part of the sensor link the controller drives directly.
type Sensor interface {
	Configure(ctx context.Context) error
}

// Recorder captures sequences.
type Recorder interface {
	Record(ctx context.Context, budget time.Duration, target int) (*gesture.Sequence, error)
}

// Output is a digital output such as an indicator LED or a door strike.
type Output interface {
	Set(on bool) error
}

// Display shows short centered messages.
type Display interface {
	Clear() error
	Show(lines ...string) error
}

// Observer is notified from the foreground loop; implementations must not block.
type Observer interface {
	StateChanged(from, to State)
	Recorded(samples int, err error)
	Compared(out gesture.Outcome)
	Faulted(err error)
}

// Settings are the controller's tunables.
type Settings struct {
	SequenceLength int
	RecordBudget   time.Duration
	Tolerance      float64
	UnlockDwell    time.Duration
	RecordSettle   time.Duration
	FaultBackoff   time.Duration
}

// DefaultSettings mirror the reference device. The record budget leaves room
// for 50 samples at 50ms.
func DefaultSettings() Settings {
	return Settings{
		SequenceLength: 50,
		RecordBudget:   3 * time.Second,
		Tolerance:      1000,
		UnlockDwell:    8 * time.Second,
		RecordSettle:   5 * time.Second,
		FaultBackoff:   time.Second,
	}
}

// Status is a snapshot of the controller, safe to read from any goroutine.
type Status struct {
	State        State     `json:"state"`
	HasReference bool      `json:"has_reference"`
	Comparisons  int       `json:"comparisons"`
	Unlocks      int       `json:"unlocks"`
	LastMatch    bool      `json:"last_match"`
	Fault        string    `json:"fault,omitempty"`
	Since        time.Time `json:"since"`
}

// Controller is the gesture lock state machine.
type Controller struct {
	sensor Sensor
	rec    Recorder
	flags  *events.Flags
	cfg    Settings

	recordLED Output
	unlockLED Output
	display   Display
	observers []Observer
	onConfig  func()

	// recording is set false->true only by PressButton and true->false only by Run.
	recording atomic.Bool

	// Owned by Run.
	state        State
	reference    *gesture.Sequence
	hasReference bool

	mu     sync.Mutex
	status Status
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecordIndicator sets the output lit while recording.
func WithRecordIndicator(o Output) Option { return func(c *Controller) { c.recordLED = o } }

// WithUnlockIndicator sets the output pulsed on a match.
func WithUnlockIndicator(o Output) Option { return func(c *Controller) { c.unlockLED = o } }

// WithDisplay sets the message sink.
func WithDisplay(d Display) Option { return func(c *Controller) { c.display = d } }

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithConfigured registers f to run after every successful sensor configuration.
func WithConfigured(f func()) Option { return func(c *Controller) { c.onConfig = f } }

// New creates a controller in the Idle state.
func New(sensor Sensor, rec Recorder, flags *events.Flags, cfg Settings, opts ...Option) *Controller {
	c := &Controller{
		sensor:    sensor,
		rec:       rec,
		flags:     flags,
		cfg:       cfg,
		recordLED: nopOutput{},
		unlockLED: nopOutput{},
		display:   nopDisplay{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{State: Idle, Since: time.Now()}
	return c
}

// PressButton requests a recording. It may be called from any goroutine and
// is ignored while a recording is pending or in progress. It reports whether
// the press was accepted.
func (c *Controller) PressButton() bool {
	if !c.recording.CompareAndSwap(false, true) {
		return false
	}
	c.flags.Set(events.ButtonPressed)
	return true
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run drives the state machine until ctx is cancelled. Faults never end the
// loop; the controller falls back to Idle and reconfigures the sensor.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	if err := c.configure(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.fault(ctx, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch {
		case c.flags.TryWaitAll(events.ButtonPressed):
			err = c.record(ctx)
		case c.hasReference:
			err = c.compare(ctx)
		default:
			c.setState(Idle)
			if err = c.flags.WaitAll(ctx, events.ButtonPressed); err == nil {
				err = c.record(ctx)
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.fault(ctx, err)
		}
	}
}

func (c *Controller) configure(ctx context.Context) error {
	if err := c.sensor.Configure(ctx); err != nil {
		return err
	}
	if c.onConfig != nil {
		c.onConfig()
	}
	return nil
}

func (c *Controller) record(ctx context.Context) error {
	defer c.recording.Store(false)

	c.setState(Recording)
	c.setOutput("record", c.recordLED, true)
	c.show("Move", "to", "record", "your", "Key")
	glog.Info("lock: started recording")

	seq, err := c.rec.Record(ctx, c.cfg.RecordBudget, c.cfg.SequenceLength)
	c.setOutput("record", c.recordLED, false)
	n := 0
	if seq != nil {
		n = seq.Len()
	}
	glog.Infof("lock: stopped recording after %d samples", n)

	if errors.Is(err, recorder.ErrShortCapture) {
		glog.Warningf("lock: recording rejected: %v", err)
		c.notify(func(o Observer) { o.Recorded(n, err) })
		c.show("Too", "short,", "try", "again")
		c.setState(c.restState())
		return nil
	}
	if err != nil {
		c.notify(func(o Observer) { o.Recorded(n, err) })
		return err
	}

	c.reference = seq
	c.hasReference = true
	c.updateStatus(func(s *Status) { s.HasReference = true })
	c.notify(func(o Observer) { o.Recorded(n, nil) })
	c.show("Your", "key", "is", "recorded", "successfully")

	if err := events.Sleep(ctx, c.cfg.RecordSettle); err != nil {
		return err
	}
	c.setState(Armed)
	return nil
}

func (c *Controller) compare(ctx context.Context) error {
	c.setState(Comparing)
	c.show("Comparing...")

	cand, err := c.rec.Record(ctx, 0, c.cfg.SequenceLength)
	if err != nil {
		return err
	}
	out, err := gesture.Compare(c.reference, cand, c.cfg.Tolerance)
	if err != nil {
		return err
	}
	c.updateStatus(func(s *Status) {
		s.Comparisons++
		s.LastMatch = out.Match
	})
	c.notify(func(o Observer) { o.Compared(out) })

	if !out.Match {
		glog.V(1).Infof("lock: no match %+v", out.Axes)
		c.setState(Armed)
		return nil
	}

	glog.Info("lock: sequence matched")
	c.setState(Unlocked)
	c.updateStatus(func(s *Status) { s.Unlocks++ })
	if err := c.display.Clear(); err != nil {
		glog.Warningf("lock: display clear: %v", err)
	}
	c.show("Unlocked")
	c.setOutput("unlock", c.unlockLED, true)
	err = events.Sleep(ctx, c.cfg.UnlockDwell)
	c.setOutput("unlock", c.unlockLED, false)
	c.setState(Armed)
	return err
}

// fault drops to Idle with every output off, then reconfigures the sensor
// until it answers again or ctx is cancelled.
func (c *Controller) fault(ctx context.Context, err error) {
	glog.Errorf("lock: sensor fault: %v", err)
	c.setOutput("unlock", c.unlockLED, false)
	c.setOutput("record", c.recordLED, false)
	c.setState(Idle)
	c.updateStatus(func(s *Status) { s.Fault = err.Error() })
	c.notify(func(o Observer) { o.Faulted(err) })
	c.show("Sensor", "fault")

	for attempt := 1; ; attempt++ {
		if events.Sleep(ctx, c.cfg.FaultBackoff) != nil {
			return
		}
		if err := c.configure(ctx); err != nil {
			glog.Warningf("lock: reconfigure attempt %d failed: %v", attempt, err)
			continue
		}
		break
	}

	glog.Infof("lock: sensor recovered")
	c.updateStatus(func(s *Status) { s.Fault = "" })
	c.setState(c.restState())
}

func (c *Controller) restState() State {
	if c.hasReference {
		return Armed
	}
	return Idle
}

func (c *Controller) shutdown() {
	c.setOutput("unlock", c.unlockLED, false)
	c.setOutput("record", c.recordLED, false)
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.updateStatus(func(s *Status) {
		s.State = to
		s.Since = time.Now()
	})
	glog.V(1).Infof("lock: %s -> %s", from, to)
	c.notify(func(o Observer) { o.StateChanged(from, to) })
}

func (c *Controller) updateStatus(f func(*Status)) {
	c.mu.Lock()
	f(&c.status)
	c.mu.Unlock()
}

func (c *Controller) notify(f func(Observer)) {
	for _, o := range c.observers {
		f(o)
	}
}

func (c *Controller) setOutput(name string, o Output, on bool) {
	if err := o.Set(on); err != nil {
		glog.Errorf("lock: %s output: %v", name, err)
	}
}

func (c *Controller) show(lines ...string) {
	if err := c.display.Show(lines...); err != nil {
		glog.Warningf("lock: display: %v", err)
	}
}

type nopOutput struct{}

func (nopOutput) Set(bool) error { return nil }

type nopDisplay struct{}

func (nopDisplay) Clear() error         { return nil }
func (nopDisplay) Show(...string) error { return nil }
