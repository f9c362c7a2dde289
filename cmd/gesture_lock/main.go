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
	sim        = flag.Bool("sim", false, "use a simulated gyroscope instead of the SPI bus")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	glog.Info("starting gesture lock")
	if err := config.InitGlobal(*configPath); err != nil {
		glog.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunLock(ctx, *sim); err != nil {
		glog.Fatalf("fatal: %v", err)
	}
}
