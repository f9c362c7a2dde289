// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
)

// Config holds all application configuration values.
type Config struct {
	// Gyroscope bus
	SPIDevice  string
	SPISpeedHz int64
	SPIMode    int // 0-3

	// Pins (periph gpioreg names, empty disables)
	DataReadyPin string
	ButtonPin    string
	RecordLEDPin string
	UnlockLEDPin string

	// Gesture
	SequenceLength   int
	SampleIntervalMS int
	RecordBudgetMS   int // 0 = unlimited
	Tolerance        float64

	// Timing
	UnlockDwellMS  int
	RecordSettleMS int
	BusTimeoutMS   int
	BusRetries     int
	FaultBackoffMS int

	// MQTT (empty broker disables telemetry)
	MQTTBroker   string
	MQTTClientID string

	// Topics
	TopicState   string
	TopicOutcome string
	TopicFault   string
	TopicCommand string

	// Display (address 0 disables, otherwise only 0x3C is supported)
	DisplayI2CBus  string
	DisplayI2CAddr uint16

	// Door actuator (empty port disables)
	UnlockSerialPort string
	UnlockSerialBaud int

	// Servers
	WebServerPort     int
	RegisterDebugPort int
}

// Package-level singleton. InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the values of the reference board.
func Default() *Config {
	return &Config{
		SPIDevice:  "",
		SPISpeedHz: 1_000_000,
		SPIMode:    3,

		DataReadyPin: "GPIO22",
		ButtonPin:    "GPIO17",
		RecordLEDPin: "GPIO27",
		UnlockLEDPin: "GPIO23",

		SequenceLength:   50,
		SampleIntervalMS: 50,
		RecordBudgetMS:   3000,
		Tolerance:        1000,

		UnlockDwellMS:  8000,
		RecordSettleMS: 5000,
		BusTimeoutMS:   100,
		BusRetries:     2,
		FaultBackoffMS: 1000,

		MQTTBroker:   "tcp://localhost:1883",
		MQTTClientID: defaultClientID(),

		TopicState:   "lock/state",
		TopicOutcome: "lock/outcome",
		TopicFault:   "lock/fault",
		TopicCommand: "lock/cmd",

		DisplayI2CBus:  "",
		DisplayI2CAddr: 0x3C,

		UnlockSerialBaud: 9600,

		WebServerPort:     8080,
		RegisterDebugPort: 8081,
	}
}

// defaultClientID derives a stable MQTT client id from the machine id.
func defaultClientID() string {
	id, err := machineid.ProtectedID("gesture_lock")
	if err != nil {
		return fmt.Sprintf("gesture-lock-%d", os.Getpid())
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "gesture-lock-" + id
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r. Blank lines and lines starting with #
// are skipped.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Gyroscope bus
	case "SPI_DEVICE":
		c.SPIDevice = value
	case "SPI_SPEED_HZ":
		hz, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid SPI_SPEED_HZ %q: %w", value, perr)
		}
		if hz <= 0 || hz > 10_000_000 {
			return fmt.Errorf("SPI_SPEED_HZ must be 1-10000000, got %d", hz)
		}
		c.SPISpeedHz = hz
	case "SPI_MODE":
		c.SPIMode, err = parseInt(key, value, 0, 3)

	// Pins
	case "DATA_READY_PIN":
		c.DataReadyPin = value
	case "BUTTON_PIN":
		c.ButtonPin = value
	case "RECORD_LED_PIN":
		c.RecordLEDPin = value
	case "UNLOCK_LED_PIN":
		c.UnlockLEDPin = value

	// Gesture
	case "SEQUENCE_LENGTH":
		c.SequenceLength, err = parseInt(key, value, 1, 10000)
	case "SAMPLE_INTERVAL_MS":
		c.SampleIntervalMS, err = parseInt(key, value, 1, 10000)
	case "RECORD_BUDGET_MS":
		c.RecordBudgetMS, err = parseInt(key, value, 0, 600000)
	case "TOLERANCE":
		tol, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid TOLERANCE %q: %w", value, perr)
		}
		if tol < 0 || math.IsNaN(tol) {
			return fmt.Errorf("TOLERANCE must be >= 0, got %v", tol)
		}
		c.Tolerance = tol

	// Timing
	case "UNLOCK_DWELL_MS":
		c.UnlockDwellMS, err = parseInt(key, value, 0, 600000)
	case "RECORD_SETTLE_MS":
		c.RecordSettleMS, err = parseInt(key, value, 0, 600000)
	case "BUS_TIMEOUT_MS":
		c.BusTimeoutMS, err = parseInt(key, value, 1, 60000)
	case "BUS_RETRIES":
		c.BusRetries, err = parseInt(key, value, 0, 10)
	case "FAULT_BACKOFF_MS":
		c.FaultBackoffMS, err = parseInt(key, value, 1, 600000)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value

	// Topics
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_OUTCOME":
		c.TopicOutcome = value
	case "TOPIC_FAULT":
		c.TopicFault = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		if addr != 0 && addr != 0x3C {
			return fmt.Errorf("DISPLAY_I2C_ADDR must be 0 (disabled) or 0x3C, got 0x%X", addr)
		}
		c.DisplayI2CAddr = uint16(addr)

	// Door actuator
	case "UNLOCK_SERIAL_PORT":
		c.UnlockSerialPort = value
	case "UNLOCK_SERIAL_BAUD":
		c.UnlockSerialBaud, err = parseInt(key, value, 1, 4000000)

	// Servers
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)
	case "REGISTER_DEBUG_PORT":
		c.RegisterDebugPort, err = parseInt(key, value, 1, 65535)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.SequenceLength <= 0 {
		return fmt.Errorf("SEQUENCE_LENGTH is required")
	}
	if c.SampleIntervalMS <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_MS is required")
	}
	if c.MQTTBroker != "" {
		if c.MQTTClientID == "" {
			return fmt.Errorf("MQTT_CLIENT_ID is required when MQTT_BROKER is set")
		}
		if c.TopicState == "" || c.TopicOutcome == "" || c.TopicFault == "" || c.TopicCommand == "" {
			return fmt.Errorf("all TOPIC_* keys are required when MQTT_BROKER is set")
		}
	}
	if c.UnlockSerialPort != "" && c.UnlockSerialBaud <= 0 {
		return fmt.Errorf("UNLOCK_SERIAL_BAUD is required when UNLOCK_SERIAL_PORT is set")
	}
	return nil
}

// Durations derived from the millisecond keys.

func (c *Config) SampleInterval() time.Duration { return ms(c.SampleIntervalMS) }
func (c *Config) RecordBudget() time.Duration   { return ms(c.RecordBudgetMS) }
func (c *Config) UnlockDwell() time.Duration    { return ms(c.UnlockDwellMS) }
func (c *Config) RecordSettle() time.Duration   { return ms(c.RecordSettleMS) }
func (c *Config) BusTimeout() time.Duration     { return ms(c.BusTimeoutMS) }
func (c *Config) FaultBackoff() time.Duration   { return ms(c.FaultBackoffMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// InitGlobal initializes the global configuration from file. Only the first
// call has any effect. An empty path keeps the defaults.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
