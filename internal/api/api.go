// Package api exposes the sync manager over HTTP.
//
//	POST /api/v1/notifications          change notification ingress (always 200)
//	POST /api/v1/sync                   manual sync
//	GET  /api/v1/sync/health/{userId}   sync health
//	POST /api/v1/subscriptions          notification routing
//	GET  /api/v1/health                 liveness
//	GET  /ws                            sync event stream
package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EventStream serves the WebSocket event stream. *events.Hub implements it.
type EventStream interface {
	http.Handler
	ClientCounter
}

// New creates the router with every operation registered. events may be
// nil, in which case /ws is not mounted.
func New(service SyncService, events EventStream) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)

	config := huma.DefaultConfig("PageSync API", "1.0.0")
	api := humachi.New(mux, config)

	var clients ClientCounter
	if events != nil {
		clients = events
		mux.Handle("/ws", events)
	}

	handler := NewHandler(service, clients, huma.Middlewares{RequestLogger()})
	handler.SetupRoutes(api)

	return mux
}
