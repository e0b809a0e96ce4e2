package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint used by cmd/imlast. It returns an error
// instead of calling os.Exit so that defers run and main stays trivial.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel)

	a, err := New(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
