package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// serve drains in-flight OCR requests on interrupt.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
