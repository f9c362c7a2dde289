// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// CmdRecord asks the lock to record a new reference, like a button press.
const CmdRecord = "record"

// ErrUnknownCommand is returned for payloads that name no known command.
var ErrUnknownCommand = errors.New("telemetry: unknown command")

// Command is the JSON form of a remote command. A bare "record" payload is
// accepted too.
type Command struct {
	Cmd string `json:"cmd"`
}

// ParseCommand extracts the command name from payload.
func ParseCommand(payload []byte) (string, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '{' {
		var c Command
		if err := json.Unmarshal(payload, &c); err != nil {
			return "", fmt.Errorf("telemetry: command: %w", err)
		}
		payload = []byte(c.Cmd)
	}
	switch cmd := string(payload); cmd {
	case CmdRecord:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// Button is the remote-press target; *lock.Controller implements it.
type Button interface {
	PressButton() bool
}

// ServeCommands subscribes to topic and turns "record" commands into button
// presses.
func ServeCommands(client Client, topic string, button Button) error {
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		HandleCommand(button, msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: subscribe %s: %w", topic, err)
	}
	glog.Infof("telemetry: accepting commands on %s", topic)
	return nil
}

// HandleCommand applies one command payload and reports whether it was
// accepted.
func HandleCommand(button Button, payload []byte) bool {
	cmd, err := ParseCommand(payload)
	if err != nil {
		glog.Warningf("telemetry: %v", err)
		return false
	}
	switch cmd {
	case CmdRecord:
		if !button.PressButton() {
			glog.Info("telemetry: record ignored, already recording")
			return false
		}
		glog.Info("telemetry: remote record request")
		return true
	}
	return false
}

// SendCommand publishes cmd to topic and waits for the broker.
func SendCommand(client Client, topic, cmd string) error {
	payload, err := json.Marshal(Command{Cmd: cmd})
	if err != nil {
		return err
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: send %s: %w", cmd, err)
	}
	return nil
}
