package app

import (
	"context"
	"fmt"
	"net/http"

	"livepreview/internal/gateway/collection"
	"livepreview/internal/gateway/config"
	"livepreview/internal/gateway/handler"
	"livepreview/internal/gateway/handler/rpc"
	"livepreview/internal/gateway/relay"
	"livepreview/internal/gateway/server"
	gatewaydocument "livepreview/internal/gateway/service/document"
)

type App struct {
	server *server.Server
	stores *gatewayStores
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg *config.Config) (*App, error) {
	collections, err := collection.Load(cfg.CollectionsPath)
	if err != nil {
		return nil, err
	}
	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}

	mux, hub := buildHandler(cfg, collections, stores)
	return &App{
		server: server.New(cfg.Port, mux, hub.Close),
		stores: stores,
	}, nil
}

func buildHandler(cfg *config.Config, collections *collection.Registry, stores *gatewayStores) (http.Handler, *relay.Hub) {
	// Dependencies
	hub := relay.NewHub(cfg.AllowedOrigins)
	documentSvc := gatewaydocument.New(stores.documents, collections, stores.uploads)
	documentSvc.SetNotifier(relay.NewDocumentNotifier(hub, cfg.PublicURL))

	documentsHandler := handler.NewDocumentsHandler(documentSvc, cfg.APIRoute)
	publishHandler := rpc.NewPublishHandler(hub, collections, cfg.PublicURL)

	// Routing
	return server.NewMux(cfg.AllowedOrigins, hub, documentsHandler, publishHandler), hub
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.stores.close(); err == nil {
		err = cerr
	}
	return err
}
