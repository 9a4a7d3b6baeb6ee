package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"livepreview/internal/gateway/app"
)

// Relay sockets are closed as soon as shutdown starts, so the grace period
// only has to cover in-flight document API and publish requests.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New()
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- a.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			log.Printf("Gateway error: %v", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down gateway, closing relay connections...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Gateway forced to shutdown: %v", err)
	}

	log.Println("Gateway exiting")
}
