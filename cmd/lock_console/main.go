// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/app"
	"github.com/relabs-tech/gesture_lock/internal/config"
)

var configPath = flag.String("config", "", "KEY=VALUE configuration file (built-in defaults when empty)")

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := config.InitGlobal(*configPath); err != nil {
		glog.Fatalf("failed to load config: %v", err)
	}

	// Ctrl-C belongs to the shell; only SIGTERM stops the console from outside.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx); err != nil {
		glog.Fatalf("fatal: %v", err)
	}
}
