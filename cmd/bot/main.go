package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hwbot/internal/app"
	"hwbot/internal/config"
	logx "hwbot/pkg/logx"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "", "path to optional settings file (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "path to dotenv file with credentials")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{SettingsPath: cfgPath, EnvFile: envPath})
	if err != nil {
		// Logging is not configured yet; record the failure in the default sinks.
		boot, log := logx.New(logx.Config{
			Level:   config.DefaultLogLevel,
			Console: true,
			File:    logx.FileConfig{Enabled: true, Path: logx.DefaultFilePath},
		})
		if errors.Is(err, config.ErrConfiguration) {
			log.Critical("configuration error, exiting", logx.Err(err))
		} else {
			log.Critical("startup failed", logx.Err(err))
		}
		_ = boot.Close()
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
