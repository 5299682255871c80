package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/recreport/recreport/internal/cli/recreport"
	"github.com/recreport/recreport/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv("recreport")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := recreport.Run(ctx, os.Args[1:], recreport.Options{
		Config: cfg,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
