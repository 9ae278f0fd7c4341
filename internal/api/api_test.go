package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/conflict"
)

// =====================================================
// Test Helpers
// =====================================================

type mockService struct {
	mock.Mock
}

func (m *mockService) SyncResource(ctx context.Context, req sync.SyncRequest) (*models.SyncStatus, error) {
	args := m.Called(ctx, req)
	status, _ := args.Get(0).(*models.SyncStatus)
	return status, args.Error(1)
}

func (m *mockService) HandleChangeNotification(ctx context.Context, event sync.ChangeEvent) sync.AckResult {
	args := m.Called(ctx, event)
	return args.Get(0).(sync.AckResult)
}

func (m *mockService) GetSyncHealth(ctx context.Context, userID string) (*sync.SyncHealth, error) {
	args := m.Called(ctx, userID)
	health, _ := args.Get(0).(*sync.SyncHealth)
	return health, args.Error(1)
}

func (m *mockService) Subscribe(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

type fakeStream struct {
	clients int
}

func (f *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeStream) ClientCount() int {
	return f.clients
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// =====================================================
// Notification Tests
// =====================================================

// TestNotification_acknowledged verifies notifications are passed through and acknowledged.
func TestNotification_acknowledged(t *testing.T) {
	svc := &mockService{}
	edited := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.On("HandleChangeNotification", mock.Anything, mock.MatchedBy(func(e sync.ChangeEvent) bool {
		return e.Type == "page.updated" && e.ResourceID == "r1" &&
			e.WorkspaceID == "w1" && e.LastEditedTime.Equal(edited)
	})).Return(sync.AckResult{Acknowledged: true, Action: sync.AckTriggered, UserID: "u1"})

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"type":             "page.updated",
		"resource_id":      "r1",
		"workspace_id":     "w1",
		"last_edited_time": edited.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack sync.AckResult
	decode(t, rec, &ack)
	assert.True(t, ack.Acknowledged)
	assert.Equal(t, sync.AckTriggered, ack.Action)
	svc.AssertExpectations(t)
}

// TestNotification_unrouted verifies unknown resources still get a 200.
func TestNotification_unrouted(t *testing.T) {
	svc := &mockService{}
	svc.On("HandleChangeNotification", mock.Anything, mock.Anything).
		Return(sync.AckResult{Acknowledged: true, Action: sync.AckNoSubscriber, Note: "no subscriber"})

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"resource_id": "unknown",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var ack sync.AckResult
	decode(t, rec, &ack)
	assert.Equal(t, sync.AckNoSubscriber, ack.Action)
}

// TestNotification_epochMillis verifies a numeric edit time is read as
// Unix milliseconds.
func TestNotification_epochMillis(t *testing.T) {
	svc := &mockService{}
	edited := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.On("HandleChangeNotification", mock.Anything, mock.MatchedBy(func(e sync.ChangeEvent) bool {
		return e.ResourceID == "r1" && e.LastEditedTime.Equal(edited)
	})).Return(sync.AckResult{Acknowledged: true, Action: sync.AckTriggered})

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/notifications", map[string]interface{}{
		"resource_id":      "r1",
		"last_edited_time": edited.UnixMilli(),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	svc.AssertExpectations(t)
}

// TestNotification_malformed verifies bodies that cannot be decoded are
// acknowledged with an error action and never reach the service.
func TestNotification_malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		note string
	}{
		{name: "bad timestamp", body: `{"resource_id":"r1","last_edited_time":"yesterday"}`, note: "last_edited_time"},
		{name: "wrong type", body: `{"resource_id":"r1","last_edited_time":true}`, note: "last_edited_time"},
		{name: "not json", body: `not json`, note: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			New(svc, nil).ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var ack sync.AckResult
			decode(t, rec, &ack)
			assert.True(t, ack.Acknowledged)
			assert.Equal(t, sync.AckError, ack.Action)
			assert.Contains(t, ack.Note, tt.note)
			svc.AssertNotCalled(t, "HandleChangeNotification", mock.Anything, mock.Anything)
		})
	}
}

// =====================================================
// Sync Tests
// =====================================================

// TestSync_success verifies the request is mapped and the status returned.
func TestSync_success(t *testing.T) {
	svc := &mockService{}
	svc.On("SyncResource", mock.Anything, mock.MatchedBy(func(req sync.SyncRequest) bool {
		return req.UserID == "u1" && req.ResourceID == "r1" &&
			req.Direction == models.DirectionBidirectional &&
			req.Strategy == conflict.StrategyMerge && req.Full
	})).Return(&models.SyncStatus{UserID: "u1", ResourceID: "r1", Status: models.StatusSuccess, ItemsSynced: 3}, nil)

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/sync", map[string]interface{}{
		"user_id":     "u1",
		"resource_id": "r1",
		"direction":   "bidirectional",
		"strategy":    "merge",
		"full":        true,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SyncResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.Status)
	assert.Equal(t, models.StatusSuccess, resp.Status.Status)
	assert.Equal(t, 3, resp.Status.ItemsSynced)
	svc.AssertExpectations(t)
}

// TestSync_errors verifies error codes map to HTTP statuses.
func TestSync_errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", errors.New(errors.ErrSyncInProgress, "busy"), http.StatusConflict},
		{"invalid", errors.New(errors.ErrInvalid, "bad"), http.StatusBadRequest},
		{"fatal", errors.Fatal("fetch failed", assert.AnError), http.StatusBadGateway},
		{"exhausted", errors.Wrap(errors.ErrSyncRetryExhausted, "gave up", assert.AnError), http.StatusServiceUnavailable},
		{"unclassified", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("SyncResource", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/sync", map[string]interface{}{
				"user_id":     "u1",
				"resource_id": "r1",
			})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// TestSync_validation verifies malformed requests are rejected before the service.
func TestSync_validation(t *testing.T) {
	svc := &mockService{}

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/sync", map[string]interface{}{
		"user_id":     "u1",
		"resource_id": "r1",
		"direction":   "sideways",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	svc.AssertNotCalled(t, "SyncResource", mock.Anything, mock.Anything)
}

// =====================================================
// Health and Subscription Tests
// =====================================================

// TestSyncHealth verifies the health body.
func TestSyncHealth(t *testing.T) {
	svc := &mockService{}
	svc.On("GetSyncHealth", mock.Anything, "u1").
		Return(&sync.SyncHealth{Status: sync.HealthDegraded, SuccessRate: 0.8, PendingRetries: 2, Total: 10}, nil)

	rec := do(t, New(svc, nil), http.MethodGet, "/api/v1/sync/health/u1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var health sync.SyncHealth
	decode(t, rec, &health)
	assert.Equal(t, sync.HealthDegraded, health.Status)
	assert.InDelta(t, 0.8, health.SuccessRate, 1e-9)
	assert.Equal(t, 2, health.PendingRetries)
}

// TestSubscribe verifies subscriptions are created.
func TestSubscribe(t *testing.T) {
	svc := &mockService{}
	svc.On("Subscribe", mock.Anything, &models.Subscription{WorkspaceID: "w1", ResourceID: "r1", UserID: "u1"}).
		Return(nil)

	rec := do(t, New(svc, nil), http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"workspace_id": "w1",
		"resource_id":  "r1",
		"user_id":      "u1",
	})

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	svc.AssertExpectations(t)
}

// TestHealth verifies the liveness endpoint reports stream clients.
func TestHealth(t *testing.T) {
	rec := do(t, New(&mockService{}, &fakeStream{clients: 2}), http.MethodGet, "/api/v1/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, 2, resp.Clients)
}

// TestEventStreamMounted verifies /ws reaches the event stream.
func TestEventStreamMounted(t *testing.T) {
	rec := do(t, New(&mockService{}, &fakeStream{}), http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)

	rec = do(t, New(&mockService{}, nil), http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
