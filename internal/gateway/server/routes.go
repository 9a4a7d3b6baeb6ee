package server

import (
	"net/http"

	"livepreview/internal/gateway/handler"
	"livepreview/internal/gateway/handler/rpc"
	"livepreview/internal/gateway/middleware"
	"livepreview/internal/gateway/relay"
)

func NewMux(
	allowedOrigins []string,
	hub *relay.Hub,
	documentsHandler *handler.DocumentsHandler,
	publishHandler *rpc.PublishHandler,
) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	mux.Handle(publishHandler.Handler())

	// Relay and document API
	mux.Handle("/ws", hub)
	mux.Handle(documentsHandler.Pattern(), documentsHandler)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Middleware
	return middleware.CORS(allowedOrigins)(mux)
}
