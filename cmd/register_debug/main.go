// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/app"
	"github.com/relabs-tech/gesture_lock/internal/config"
)

var (
	configPath = flag.String("config", "", "KEY=VALUE configuration file (built-in defaults when empty)")
	sim        = flag.Bool("sim", false, "inspect a simulated gyroscope")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	// Owns the SPI bus: stop gesture_lock before running this.
	glog.Info("starting L3GD20 register debug tool")
	if err := config.InitGlobal(*configPath); err != nil {
		glog.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunRegisterDebug(ctx, *sim); err != nil {
		glog.Fatalf("fatal: %v", err)
	}
}
