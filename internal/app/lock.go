// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/relabs-tech/gesture_lock/internal/board"
	"github.com/relabs-tech/gesture_lock/internal/config"
	"github.com/relabs-tech/gesture_lock/internal/display"
	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/lock"
	"github.com/relabs-tech/gesture_lock/internal/recorder"
	"github.com/relabs-tech/gesture_lock/internal/sensors"
	"github.com/relabs-tech/gesture_lock/internal/telemetry"
)

// simDataReadyPeriod approximates the gyroscope's 95Hz output data rate.
const simDataReadyPeriod = 10 * time.Millisecond

// LockSettings maps the configuration onto controller settings.
func LockSettings(cfg *config.Config) lock.Settings {
	return lock.Settings{
		SequenceLength: cfg.SequenceLength,
		RecordBudget:   cfg.RecordBudget(),
		Tolerance:      cfg.Tolerance,
		UnlockDwell:    cfg.UnlockDwell(),
		RecordSettle:   cfg.RecordSettle(),
		FaultBackoff:   cfg.FaultBackoff(),
	}
}

// TelemetryTopics maps the configuration onto MQTT topics.
func TelemetryTopics(cfg *config.Config) telemetry.Topics {
	return telemetry.Topics{
		State:   cfg.TopicState,
		Outcome: cfg.TopicOutcome,
		Fault:   cfg.TopicFault,
		Command: cfg.TopicCommand,
	}
}

// RunLock runs the gesture lock until ctx is cancelled. With sim set the
// gyroscope, pins and display are replaced by in-process stand-ins and the
// only way to press the button is the MQTT command topic.
func RunLock(ctx context.Context, sim bool) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("lock: configuration not loaded")
	}

	flags := events.NewFlags()
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				glog.Warningf("lock: close: %v", err)
			}
		}
	}()

	var (
		transport sensors.Transport
		dataReady *board.Watcher
	)
	if sim {
		dev := sensors.NewSimDevice(sensors.SmoothMotion)
		go dev.RunDataReady(simDataReadyPeriod, func() { flags.Set(events.DataReady) }, ctx.Done())
		transport = dev
		glog.Info("lock: running against the simulated gyroscope")
	} else {
		if err := board.Init(); err != nil {
			return err
		}
		tr, err := sensors.OpenSPI(cfg.SPIDevice, physic.Frequency(cfg.SPISpeedHz)*physic.Hertz, spi.Mode(cfg.SPIMode))
		if err != nil {
			return err
		}
		closers = append(closers, tr)
		transport = tr

		pin, err := board.Pin(cfg.DataReadyPin)
		if err != nil {
			return err
		}
		dataReady, err = board.Watch(ctx, pin, gpio.PullDown, gpio.RisingEdge, func() { flags.Set(events.DataReady) })
		if err != nil {
			return err
		}
	}

	link := sensors.NewLink(transport, flags)
	link.Timeout = cfg.BusTimeout()
	link.Retries = cfg.BusRetries

	rec := recorder.New(link, flags)
	rec.Period = cfg.SampleInterval()

	opts := []lock.Option{
		// The data-ready line may already be high when edge detection is
		// armed, in which case no edge would ever arrive.
		lock.WithConfigured(func() {
			if dataReady != nil {
				dataReady.PrimeIfHigh(func() { flags.Set(events.DataReady) })
			}
		}),
	}

	if !sim {
		recordOut, unlockOut, err := openOutputs(cfg, &closers)
		if err != nil {
			return err
		}
		opts = append(opts, lock.WithRecordIndicator(recordOut), lock.WithUnlockIndicator(unlockOut))

		if cfg.DisplayI2CAddr != 0 {
			panel, err := display.Open(cfg.DisplayI2CBus)
			if err != nil {
				glog.Warningf("lock: continuing without display: %v", err)
			} else {
				closers = append(closers, panel)
				opts = append(opts, lock.WithDisplay(panel))
			}
		}
	}

	var client mqtt.Client
	if cfg.MQTTBroker != "" {
		c, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			glog.Warningf("lock: continuing without telemetry: %v", err)
		} else {
			client = c
			defer client.Disconnect(250)
			opts = append(opts, lock.WithObserver(telemetry.NewPublisher(client, TelemetryTopics(cfg))))
		}
	}

	ctrl := lock.New(link, rec, flags, LockSettings(cfg), opts...)

	if client != nil {
		if err := telemetry.ServeCommands(client, cfg.TopicCommand, ctrl); err != nil {
			return err
		}
	}
	if !sim && cfg.ButtonPin != "" {
		pin, err := board.Pin(cfg.ButtonPin)
		if err != nil {
			return err
		}
		if _, err := board.Watch(ctx, pin, gpio.PullDown, gpio.RisingEdge, func() { ctrl.PressButton() }); err != nil {
			return err
		}
	}

	glog.Infof("lock: started (N=%d, tolerance=%v, budget=%v)", cfg.SequenceLength, cfg.Tolerance, cfg.RecordBudget())
	err := ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		glog.Info("lock: shutting down")
		return nil
	}
	return err
}

func openOutputs(cfg *config.Config, closers *[]io.Closer) (recordOut, unlockOut lock.Output, err error) {
	var record, unlock board.Outputs

	if cfg.RecordLEDPin != "" {
		p, err := board.OutputPin(cfg.RecordLEDPin)
		if err != nil {
			return nil, nil, fmt.Errorf("record indicator: %w", err)
		}
		record = append(record, p)
	}
	if cfg.UnlockLEDPin != "" {
		p, err := board.OutputPin(cfg.UnlockLEDPin)
		if err != nil {
			return nil, nil, fmt.Errorf("unlock indicator: %w", err)
		}
		unlock = append(unlock, p)
	}
	if cfg.UnlockSerialPort != "" {
		s, err := board.OpenSerialOutput(cfg.UnlockSerialPort, cfg.UnlockSerialBaud)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, s)
		unlock = append(unlock, s)
	}
	return record, unlock, nil
}
