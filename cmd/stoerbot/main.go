package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"

	"stoerbot/internal/app"
	"stoerbot/internal/config"
	logx "stoerbot/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "optional path to a json/yaml config file; env vars override it")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewConfigManager(cfgPath, os.Getenv), app.Options{Version: version})
	if err != nil {
		if errors.Is(err, config.ErrMissingWebhook) {
			fmt.Println("fatal:", config.ErrMissingWebhook)
		} else {
			fmt.Println("fatal:", err)
		}
		os.Exit(1)
	}
	log := a.Logger()

	if a.SinglePass() {
		_, err := a.RunOnce(ctx)
		_ = a.Stop(context.Background(), app.StopSinglePass)
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify failed", logx.Err(err))
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
		log.Error("background task failed", logx.Err(a.Err()))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
