package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], defaultDeps())
	cancel()
	os.Exit(code)
}
