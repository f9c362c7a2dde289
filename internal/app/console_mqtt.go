// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/config"
	"github.com/relabs-tech/gesture_lock/internal/imu"
	"github.com/relabs-tech/gesture_lock/internal/telemetry"
)

const consoleKey = "$console"

type console struct {
	hub    *eventHub
	client telemetry.Client
	topics telemetry.Topics
	watch  atomic.Bool
}

func consoleFrom(c *ishell.Context) *console {
	return c.Get(consoleKey).(*console)
}

func formatView(v LockView) string {
	var b strings.Builder
	if !v.Online {
		return "no telemetry received yet"
	}
	fmt.Fprintf(&b, "state=%s since=%s comparisons=%d unlocks=%d", v.State, v.Since, v.Comparisons, v.Unlocks)
	if v.LastOutcome != nil {
		fmt.Fprintf(&b, " last_match=%t", v.LastOutcome.Match)
	}
	if v.LastFault != "" {
		fmt.Fprintf(&b, " fault=%q", v.LastFault)
	}
	return b.String()
}

func formatEvent(e telemetry.Event) string {
	switch e.Kind {
	case telemetry.KindState:
		return fmt.Sprintf("[STATE]   %s  %s -> %s", e.Time, e.From, e.State)
	case telemetry.KindRecorded:
		if e.Error != "" {
			return fmt.Sprintf("[RECORD]  %s  rejected after %d samples: %s", e.Time, e.Samples, e.Error)
		}
		return fmt.Sprintf("[RECORD]  %s  %d samples", e.Time, e.Samples)
	case telemetry.KindOutcome:
		if e.Outcome == nil {
			return fmt.Sprintf("[COMPARE] %s  (no outcome)", e.Time)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[COMPARE] %s  match=%t", e.Time, e.Outcome.Match)
		for _, a := range imu.Axes {
			d := e.Outcome.Axes[a]
			fmt.Fprintf(&b, "  %s: dmean=%.1f dstd=%.1f", a, d.MeanDelta, d.StdDevDelta)
		}
		return b.String()
	case telemetry.KindFault:
		return fmt.Sprintf("[FAULT]   %s  %s", e.Time, e.Error)
	default:
		return fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Kind)), e.Time)
	}
}

var consoleCmds = []*ishell.Cmd{
	{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "show the lock state",
		Func: func(c *ishell.Context) {
			view, _ := consoleFrom(c).hub.snapshot()
			c.Println(formatView(view))
		},
	},
	{
		Name:    "record",
		Aliases: []string{"r"},
		Help:    "ask the lock to record a new key",
		Func: func(c *ishell.Context) {
			con := consoleFrom(c)
			if err := telemetry.SendCommand(con.client, con.topics.Command, telemetry.CmdRecord); err != nil {
				c.Err(err)
				return
			}
			c.Println("record requested, move the sensor")
		},
	},
	{
		Name:    "events",
		Aliases: []string{"e"},
		Help:    "show recent events",
		Func: func(c *ishell.Context) {
			_, recent := consoleFrom(c).hub.snapshot()
			if len(recent) == 0 {
				c.Println("no events yet")
				return
			}
			for _, e := range recent {
				c.Println(formatEvent(e))
			}
		},
	},
	{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "toggle live event output",
		Func: func(c *ishell.Context) {
			con := consoleFrom(c)
			on := !con.watch.Load()
			con.watch.Store(on)
			if on {
				c.Println("watching events")
			} else {
				c.Println("stopped watching")
			}
		},
	},
}

// RunConsole opens an interactive shell connected to the lock over MQTT.
func RunConsole(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("console: configuration not loaded")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("console: MQTT_BROKER is required")
	}

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	shell := ishell.New()
	con := &console{hub: newEventHub(), client: client, topics: TelemetryTopics(cfg)}
	shell.Set(consoleKey, con)
	shell.SetPrompt("lock> ")
	for _, cmd := range consoleCmds {
		shell.AddCmd(cmd)
	}

	if err := telemetry.Watch(client, con.topics, func(_ string, e telemetry.Event) {
		con.hub.apply(e)
		if con.watch.Load() {
			shell.Println(formatEvent(e))
		}
	}); err != nil {
		return err
	}
	glog.Infof("console: connected to %s", cfg.MQTTBroker)

	go func() {
		<-ctx.Done()
		shell.Close()
	}()

	shell.Println("gesture lock console, type help for commands")
	shell.Run()
	return nil
}
