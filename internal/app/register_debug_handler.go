// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/relabs-tech/gesture_lock/internal/board"
	"github.com/relabs-tech/gesture_lock/internal/config"
	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/imu"
	"github.com/relabs-tech/gesture_lock/internal/sensors"
)

const (
	registerOpTimeout = 2 * time.Second

	// Longest wait for a data-ready event before an axes read gives up.
	dataReadyWait = 500 * time.Millisecond

	// Stationary capture used to estimate the gyroscope noise floor.
	noiseSamples  = 50
	noiseInterval = 20 * time.Millisecond
	noiseTimeout  = noiseSamples*noiseInterval + registerOpTimeout
)

// RegisterBus is the register-level access the debug tool needs.
// *sensors.Link implements it.
type RegisterBus interface {
	ReadRegister(ctx context.Context, addr byte) (byte, error)
	ReadRegisters(ctx context.Context, addrs []byte) (map[byte]byte, error)
	WriteRegister(ctx context.Context, addr, value byte) error
	Identify(ctx context.Context) (byte, error)
	Configure(ctx context.Context) error
	ReadAxes(ctx context.Context) (imu.Sample, error)
}

// RegisterCmd is a websocket request. Addresses and values are hex strings
// such as "0x20".
type RegisterCmd struct {
	Action  string `json:"action"` // get_map, read, read_all, write, identify, init, export_config, noise
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is a websocket reply.
type RegisterResponse struct {
	Type        string                 `json:"type"` // register_data, register_map, status, export_config, noise, error
	Device      string                 `json:"device,omitempty"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Status      string                 `json:"status,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      *RegisterConfigFile    `json:"config,omitempty"`
	Noise       *NoiseFloor            `json:"noise,omitempty"`
}

// NoiseFloor summarizes a capture taken with the sensor at rest. The largest
// standard deviation is a lower bound for a usable match tolerance.
type NoiseFloor struct {
	Samples int                          `json:"samples"`
	Axes    map[string]gesture.AxisStats `json:"axes"`
	MaxStd  float64                      `json:"max_stddev"`
}

// RegisterConfigFile is the exported register snapshot.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	Device    string            `json:"device"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// RegisterDebugHandler serves the register inspector websocket.
type RegisterDebugHandler struct {
	bus   RegisterBus
	flags *events.Flags

	// OnConfigured runs after a successful init, e.g. to prime a data-ready
	// line that was already high.
	OnConfigured func()
}

// NewRegisterDebugHandler creates a handler backed by bus. Axes reads wait
// for DataReady on flags.
func NewRegisterDebugHandler(bus RegisterBus, flags *events.Flags) *RegisterDebugHandler {
	return &RegisterDebugHandler{bus: bus, flags: flags}
}

func hexByte(b byte) string { return fmt.Sprintf("0x%02X", b) }

func parseHexByte(field, s string) (byte, error) {
	var b byte
	if _, err := fmt.Sscanf(s, "0x%X", &b); err != nil {
		return 0, fmt.Errorf("invalid %s format: %q", field, s)
	}
	return b, nil
}

// ServeHTTP upgrades to a websocket, sends the register map and answers
// commands until the client disconnects.
func (h *RegisterDebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(h.registerMap()); err != nil {
		glog.Warningf("register_debug: error sending register map: %v", err)
		return
	}

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Warningf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(h.Handle(r.Context(), cmd)); err != nil {
			return
		}
	}
}

// Handle executes one command.
func (h *RegisterDebugHandler) Handle(ctx context.Context, cmd RegisterCmd) RegisterResponse {
	timeout := registerOpTimeout
	if cmd.Action == "noise" {
		timeout = noiseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cmd.Action {
	case "get_map":
		return h.registerMap()
	case "read":
		return h.handleRead(ctx, cmd)
	case "read_all":
		return h.handleReadAll(ctx)
	case "write":
		return h.handleWrite(ctx, cmd)
	case "identify":
		return h.handleIdentify(ctx)
	case "init":
		if err := h.bus.Configure(ctx); err != nil {
			return errorResponse("init error: %v", err)
		}
		if h.OnConfigured != nil {
			h.OnConfigured()
		}
		return RegisterResponse{Type: "status", Status: "initialized", Message: "gyroscope reconfigured"}
	case "export_config":
		return h.handleExport(ctx)
	case "noise":
		return h.handleNoise(ctx)
	case "":
		return errorResponse("missing or invalid action field")
	default:
		return errorResponse("unknown action: %s", cmd.Action)
	}
}

func errorResponse(format string, args ...interface{}) RegisterResponse {
	return RegisterResponse{Type: "error", Message: fmt.Sprintf(format, args...)}
}

func (h *RegisterDebugHandler) registerMap() RegisterResponse {
	return RegisterResponse{Type: "register_map", Device: "l3gd20", RegisterMap: sensors.RegisterMap()}
}

func (h *RegisterDebugHandler) handleRead(ctx context.Context, cmd RegisterCmd) RegisterResponse {
	if cmd.Address == "" {
		return errorResponse("missing addr field")
	}
	addr, err := parseHexByte("address", cmd.Address)
	if err != nil {
		return errorResponse("%v", err)
	}
	value, err := h.bus.ReadRegister(ctx, addr)
	if err != nil {
		return errorResponse("read error: %v", err)
	}
	return RegisterResponse{
		Type:      "register_data",
		Address:   hexByte(addr),
		Value:     hexByte(value),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (h *RegisterDebugHandler) readAll(ctx context.Context) (map[string]string, error) {
	values, err := h.bus.ReadRegisters(ctx, sensors.RegisterAddresses())
	if err != nil {
		return nil, err
	}
	regs := make(map[string]string, len(values))
	for addr, v := range values {
		regs[hexByte(addr)] = hexByte(v)
	}
	return regs, nil
}

func (h *RegisterDebugHandler) handleReadAll(ctx context.Context) RegisterResponse {
	regs, err := h.readAll(ctx)
	if err != nil {
		return errorResponse("read all error: %v", err)
	}
	return RegisterResponse{
		Type:      "register_data",
		Registers: regs,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (h *RegisterDebugHandler) handleWrite(ctx context.Context, cmd RegisterCmd) RegisterResponse {
	if cmd.Address == "" || cmd.Value == "" {
		return errorResponse("missing addr or value field")
	}
	addr, err := parseHexByte("address", cmd.Address)
	if err != nil {
		return errorResponse("%v", err)
	}
	value, err := parseHexByte("value", cmd.Value)
	if err != nil {
		return errorResponse("%v", err)
	}
	info, ok := sensors.LookupRegister(addr)
	if !ok || !info.Writable() {
		return errorResponse("register %s is not writable", hexByte(addr))
	}

	if err := h.bus.WriteRegister(ctx, addr, value); err != nil {
		return errorResponse("write error: %v", err)
	}
	got, err := h.bus.ReadRegister(ctx, addr)
	if err != nil {
		return errorResponse("verify error: %v", err)
	}
	msg := "write successful"
	if got != value {
		msg = fmt.Sprintf("write not acknowledged, read back %s", hexByte(got))
	}
	return RegisterResponse{
		Type:      "register_data",
		Address:   hexByte(addr),
		Value:     hexByte(got),
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   msg,
	}
}

func (h *RegisterDebugHandler) handleIdentify(ctx context.Context) RegisterResponse {
	id, err := h.bus.Identify(ctx)
	if err != nil {
		return errorResponse("identify error: %v", err)
	}
	return RegisterResponse{
		Type:    "status",
		Device:  sensors.DeviceName(id),
		Address: hexByte(sensors.RegWhoAmI),
		Value:   hexByte(id),
	}
}

func (h *RegisterDebugHandler) handleExport(ctx context.Context) RegisterResponse {
	regs, err := h.readAll(ctx)
	if err != nil {
		return errorResponse("export error: %v", err)
	}
	return RegisterResponse{
		Type:    "export_config",
		Message: "config exported",
		Config: &RegisterConfigFile{
			Version:   1,
			Device:    "l3gd20",
			Timestamp: time.Now().Format(time.RFC3339),
			Registers: regs,
		},
	}
}

// readAxes waits for the next data-ready event, then reads the output
// registers. Data-ready is only routed once the device has been initialized.
func (h *RegisterDebugHandler) readAxes(ctx context.Context) (imu.Sample, error) {
	wctx, cancel := context.WithTimeout(ctx, dataReadyWait)
	defer cancel()
	if err := h.flags.WaitAll(wctx, events.DataReady); err != nil {
		if ctx.Err() == nil {
			return imu.Sample{}, fmt.Errorf("no data-ready event within %v, run init first: %w", dataReadyWait, err)
		}
		return imu.Sample{}, err
	}
	return h.bus.ReadAxes(ctx)
}

func (h *RegisterDebugHandler) handleNoise(ctx context.Context) RegisterResponse {
	seq := gesture.NewSequence(noiseSamples)
	for !seq.Full() {
		s, err := h.readAxes(ctx)
		if err != nil {
			return errorResponse("noise capture error after %d samples: %v", seq.Len(), err)
		}
		_ = seq.Append(s)
		if err := events.Sleep(ctx, noiseInterval); err != nil {
			return errorResponse("noise capture interrupted: %v", err)
		}
	}

	nf := &NoiseFloor{Samples: seq.Len(), Axes: make(map[string]gesture.AxisStats, imu.NumAxes)}
	for _, a := range imu.Axes {
		st := gesture.Stats(seq.Axis(a))
		nf.Axes[a.String()] = st
		nf.MaxStd = math.Max(nf.MaxStd, st.StdDev)
	}
	glog.Infof("register_debug: noise floor max stddev %.1f over %d samples", nf.MaxStd, nf.Samples)
	return RegisterResponse{
		Type:      "noise",
		Message:   fmt.Sprintf("keep the sensor still; tolerance should exceed %.0f", nf.MaxStd),
		Timestamp: time.Now().Format(time.RFC3339),
		Noise:     nf,
	}
}

// HandleAxes serves one gyroscope sample as JSON.
func (h *RegisterDebugHandler) HandleAxes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	ctx, cancel := context.WithTimeout(r.Context(), registerOpTimeout)
	defer cancel()

	s, err := h.readAxes(ctx)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, s)
}

// RunRegisterDebug serves the register inspector until ctx is cancelled. It
// owns the gyroscope bus, so the lock daemon must not be running.
func RunRegisterDebug(ctx context.Context, sim bool) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("register_debug: configuration not loaded")
	}

	flags := events.NewFlags()
	setReady := func() { flags.Set(events.DataReady) }
	var (
		transport sensors.Transport
		dataReady *board.Watcher
	)
	if sim {
		dev := sensors.NewSimDevice(nil)
		go dev.RunDataReady(simDataReadyPeriod, setReady, ctx.Done())
		transport = dev
	} else {
		if err := board.Init(); err != nil {
			return err
		}
		tr, err := sensors.OpenSPI(cfg.SPIDevice, physic.Frequency(cfg.SPISpeedHz)*physic.Hertz, spi.Mode(cfg.SPIMode))
		if err != nil {
			return err
		}
		defer tr.Close()
		transport = tr

		pin, err := board.Pin(cfg.DataReadyPin)
		if err != nil {
			return err
		}
		if dataReady, err = board.Watch(ctx, pin, gpio.PullDown, gpio.RisingEdge, setReady); err != nil {
			return err
		}
	}
	link := sensors.NewLink(transport, flags)
	link.Timeout = cfg.BusTimeout()
	link.Retries = cfg.BusRetries

	h := NewRegisterDebugHandler(link, flags)
	h.OnConfigured = func() {
		if dataReady != nil {
			dataReady.PrimeIfHigh(setReady)
		}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/ws", h)
	r.Get("/api/axes", h.HandleAxes)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat("web/register_debug.html"); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, "web/register_debug.html")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RegisterDebugPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	glog.Infof("register_debug: open http://localhost:%d in your browser", cfg.RegisterDebugPort)
	return serveUntilDone(ctx, srv)
}
