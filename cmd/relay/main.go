package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clsrelay/internal/core"
	"clsrelay/pkg/systemd"
)

func main() {
	cfgPath := flag.String("config", "./config.json", "path to config file (json or yaml)")
	once := flag.Bool("once", false, "run a single fetch/distribute cycle and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := core.NewApp(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	if *once {
		app.RunOnce(ctx)
		_ = app.Stop(context.Background())
		return
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start failed:", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}
	systemd.NotifyReady()
	go systemd.RunWatchdog(ctx)

	<-app.Done()
	systemd.NotifyStopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
