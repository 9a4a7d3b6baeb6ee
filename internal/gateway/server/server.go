package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

type Server struct {
	httpServer *http.Server
}

// New serves handler over h2c. No write timeout is set because relay
// connections are hijacked and long lived; onShutdown runs when Shutdown
// starts, since http.Server does not track hijacked connections.
func New(port string, handler http.Handler, onShutdown ...func()) *Server {
	srv := &http.Server{
		Addr:              port,
		Handler:           h2c.NewHandler(handler, &http2.Server{IdleTimeout: idleTimeout}),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	for _, fn := range onShutdown {
		if fn != nil {
			srv.RegisterOnShutdown(fn)
		}
	}
	return &Server{httpServer: srv}
}

func (s *Server) Start() error {
	log.Printf("live preview gateway listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
