package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/conflict"
)

// SyncService is the part of the sync manager exposed over HTTP.
type SyncService interface {
	SyncResource(ctx context.Context, req sync.SyncRequest) (*models.SyncStatus, error)
	HandleChangeNotification(ctx context.Context, event sync.ChangeEvent) sync.AckResult
	GetSyncHealth(ctx context.Context, userID string) (*sync.SyncHealth, error)
	Subscribe(ctx context.Context, sub *models.Subscription) error
}

// ClientCounter reports connected event stream clients.
type ClientCounter interface {
	ClientCount() int
}

// Handler serves the sync API operations.
type Handler struct {
	service    SyncService
	clients    ClientCounter
	middleware huma.Middlewares
}

// NewHandler creates a Handler. clients may be nil.
func NewHandler(service SyncService, clients ClientCounter, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		clients:    clients,
		middleware: middleware,
	}
}

// SetupRoutes registers every operation on api.
func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.notificationOp(), h.notification)
	huma.Register(api, h.syncOp(), h.triggerSync)
	huma.Register(api, h.syncHealthOp(), h.syncHealth)
	huma.Register(api, h.subscriptionOp(), h.subscribe)
	huma.Register(api, h.healthOp(), h.health)
}

func (h *Handler) notification(ctx context.Context, input *notificationInput) (*notificationOutput, error) {
	event, err := parseNotification(input.RawBody)
	if err != nil {
		logging.Warn("Malformed change notification", map[string]interface{}{"error": err.Error()})
		return &notificationOutput{Body: sync.AckResult{
			Acknowledged: true,
			Action:       sync.AckError,
			Note:         err.Error(),
		}}, nil
	}
	return &notificationOutput{Body: h.service.HandleChangeNotification(ctx, event)}, nil
}

func (h *Handler) triggerSync(ctx context.Context, input *syncInput) (*syncOutput, error) {
	status, err := h.service.SyncResource(ctx, sync.SyncRequest{
		UserID:     input.Body.UserID,
		ResourceID: input.Body.ResourceID,
		Direction:  models.Direction(input.Body.Direction),
		Strategy:   conflict.Strategy(input.Body.Strategy),
		Full:       input.Body.Full,
		Priority:   gateway.PriorityInteractive,
	})
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &syncOutput{Body: SyncResponse{Status: status}}, nil
}

func (h *Handler) syncHealth(ctx context.Context, input *syncHealthInput) (*syncHealthOutput, error) {
	health, err := h.service.GetSyncHealth(ctx, input.UserID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &syncHealthOutput{Body: *health}, nil
}

func (h *Handler) subscribe(ctx context.Context, input *subscriptionInput) (*subscriptionOutput, error) {
	sub := &models.Subscription{
		WorkspaceID: input.Body.WorkspaceID,
		ResourceID:  input.Body.ResourceID,
		UserID:      input.Body.UserID,
	}
	if err := h.service.Subscribe(ctx, sub); err != nil {
		return nil, toHTTPError(err)
	}
	return &subscriptionOutput{Body: *sub}, nil
}

func (h *Handler) health(_ context.Context, _ *healthInput) (*healthOutput, error) {
	logging.Debug("health check request received")

	out := &healthOutput{Body: HealthResponse{Status: "OK"}}
	if h.clients != nil {
		out.Body.Clients = h.clients.ClientCount()
	}
	return out, nil
}

// toHTTPError maps an error code to the matching HTTP status.
func toHTTPError(err error) error {
	msg := err.Error()
	switch errors.CodeOf(err) {
	case errors.ErrInvalid, errors.ErrValidation:
		return huma.Error400BadRequest(msg)
	case errors.ErrNotFound:
		return huma.Error404NotFound(msg)
	case errors.ErrSyncInProgress:
		return huma.Error409Conflict(msg)
	case errors.ErrSyncRecoverable, errors.ErrSyncRetryExhausted:
		return huma.Error503ServiceUnavailable(msg)
	case errors.ErrSyncFatal, errors.ErrConflictUnresolved:
		return huma.Error502BadGateway(msg)
	}
	logging.Error("Request failed", err)
	return huma.Error500InternalServerError("internal error")
}
