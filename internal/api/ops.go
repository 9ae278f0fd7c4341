package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) notificationOp() huma.Operation {
	return huma.Operation{
		OperationID: "notification-receive",
		Method:      http.MethodPost,
		Path:        "/api/v1/notifications",
		Summary:     "Receive a change notification",
		Description: "Always acknowledged, malformed bodies included. Starts a background sync unless the change is an echo, debounced or unrouted.",
		Tags:        []string{"notifications"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) syncOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-trigger",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Sync a resource",
		Description: "Runs a sync and returns the resulting status",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) syncHealthOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/health/{userId}",
		Summary:     "Get sync health",
		Description: "Returns the success rate over the user's recent syncs",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) subscriptionOp() huma.Operation {
	return huma.Operation{
		OperationID:   "subscription-create",
		Method:        http.MethodPost,
		Path:          "/api/v1/subscriptions",
		Summary:       "Subscribe a user to a resource",
		Tags:          []string{"notifications"},
		DefaultStatus: http.StatusCreated,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) healthOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check endpoint",
		Description: "Returns the health status of the service",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
