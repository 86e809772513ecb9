// Package main runs the study membership service.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/studycrew/studycrew/internal/app/runtime"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(*cfgPath)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("run application: %v", err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
