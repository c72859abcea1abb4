package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"naptime/internal/app"
	"naptime/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./naptime.yaml", "path to config (yaml or json)")
	flag.Parse()

	created, err := config.NewConfigManager(cfgPath).EnsureFile()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if created {
		fmt.Println("wrote default config to", cfgPath)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(context.Background()); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
