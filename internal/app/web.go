// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gesture_lock/internal/config"
	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/lock"
	"github.com/relabs-tech/gesture_lock/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local network tool
	},
}

const (
	recentEvents  = 50
	clientBacklog = 16
	writeWait     = 5 * time.Second
)

// LockView is the web server's picture of the lock, rebuilt from telemetry.
type LockView struct {
	Online      bool             `json:"online"`
	State       string           `json:"state"`
	Since       string           `json:"since,omitempty"`
	Comparisons int              `json:"comparisons"`
	Unlocks     int              `json:"unlocks"`
	LastOutcome *gesture.Outcome `json:"last_outcome,omitempty"`
	LastFault   string           `json:"last_fault,omitempty"`
}

// eventHub folds telemetry events into a LockView and fans them out to
// websocket clients.
type eventHub struct {
	mu      sync.Mutex
	view    LockView
	recent  []telemetry.Event
	clients map[chan []byte]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{
		view:    LockView{State: lock.Idle.String()},
		clients: map[chan []byte]struct{}{},
	}
}

func (h *eventHub) apply(e telemetry.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		glog.Errorf("web: marshal event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.view.Online = true
	switch e.Kind {
	case telemetry.KindState:
		h.view.State = e.State
		h.view.Since = e.Time
		if e.State == lock.Unlocked.String() {
			h.view.Unlocks++
		}
		if e.State != lock.Idle.String() {
			h.view.LastFault = ""
		}
	case telemetry.KindOutcome:
		h.view.Comparisons++
		h.view.LastOutcome = e.Outcome
	case telemetry.KindFault:
		h.view.LastFault = e.Error
	}

	h.recent = append(h.recent, e)
	if len(h.recent) > recentEvents {
		h.recent = h.recent[len(h.recent)-recentEvents:]
	}

	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			glog.Warning("web: websocket client too slow, dropping it")
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *eventHub) snapshot() (LockView, []telemetry.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, append([]telemetry.Event(nil), h.recent...)
}

func (h *eventHub) subscribe() chan []byte {
	ch := make(chan []byte, clientBacklog)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("web: json encode error: %v", err)
	}
}

func newWebRouter(h *eventHub, static string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		view, _ := h.snapshot()
		writeJSON(w, view)
	})
	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		_, recent := h.snapshot()
		if recent == nil {
			recent = []telemetry.Event{}
		}
		writeJSON(w, recent)
	})
	r.Get("/ws", h.serveWS)

	if static != "" {
		r.Handle("/*", http.FileServer(http.Dir(static)))
	}
	return r
}

// serveWS sends the current view, then every event as it arrives.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	view, _ := h.snapshot()
	if err := conn.WriteJSON(view); err != nil {
		return
	}

	// Reader: only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// RunWeb serves the lock status page fed by MQTT telemetry until ctx is
// cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("web: configuration not loaded")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("web: MQTT_BROKER is required")
	}

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientID+"-web")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	hub := newEventHub()
	if err := telemetry.Watch(client, TelemetryTopics(cfg), func(_ string, e telemetry.Event) {
		hub.apply(e)
	}); err != nil {
		return err
	}

	static := ""
	if fi, err := os.Stat("web"); err == nil && fi.IsDir() {
		static = "web"
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           newWebRouter(hub, static),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serveUntilDone(ctx, srv)
}

// serveUntilDone runs srv and shuts it down gracefully when ctx ends.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("http: listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
