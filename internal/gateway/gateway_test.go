package gateway

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/pagesync/backend/internal/apiclient"
	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/sync/scheduler"
)

// =====================================================
// Test Helpers
// =====================================================

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Call(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*apiclient.Response)
	return resp, args.Error(1)
}

func newGateway(t *testing.T, client apiclient.Client) (*Gateway, *scheduler.Scheduler) {
	cfg := scheduler.DefaultConfig()
	cfg.RatePerSecond = 0
	cfg.MaxAttempts = 2
	sched := scheduler.NewScheduler("notes", client, clock.NewFake(time.Unix(0, 0)), cfg)
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)
	return New("notes", sched), sched
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func isRequest(method apiclient.Method, endpoint string) interface{} {
	return mock.MatchedBy(func(req apiclient.Request) bool {
		return req.Method == method && req.Endpoint == endpoint
	})
}

// =====================================================
// Resource Tests
// =====================================================

// TestGateway_FetchResource verifies a resource is fetched and decoded.
func TestGateway_FetchResource(t *testing.T) {
	client := &mockClient{}
	client.On("Call", isRequest(apiclient.MethodGet, "/resources/r1")).Return(&apiclient.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"id":"r1","title":"Biology","content":"Cells divide.","last_edited_time":"2026-03-01T10:00:00Z"}`),
	}, nil)

	gw, _ := newGateway(t, client)
	res, err := gw.FetchResource(testCtx(t), "r1", PriorityInteractive)
	require.NoError(t, err)

	assert.Equal(t, "r1", res.ID)
	assert.Equal(t, "Biology", res.Title)
	assert.Equal(t, "Cells divide.", res.Content)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), res.LastEditedTime.UTC())
	client.AssertExpectations(t)
}

// TestGateway_FetchResourceMalformed verifies undecodable resources are fatal.
func TestGateway_FetchResourceMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing edit time", `{"id":"r1","content":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			client.On("Call", mock.Anything).Return(&apiclient.Response{StatusCode: 200, Body: []byte(tt.body)}, nil)

			gw, _ := newGateway(t, client)
			_, err := gw.FetchResource(testCtx(t), "r1", PriorityInteractive)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrSyncFatal))
			assert.False(t, errors.IsRecoverable(err))
		})
	}
}

// TestGateway_PushResource verifies the PUT payload and returned version.
func TestGateway_PushResource(t *testing.T) {
	client := &mockClient{}
	client.On("Call", mock.MatchedBy(func(req apiclient.Request) bool {
		return req.Method == apiclient.MethodPut &&
			req.Endpoint == "/resources/r%2F2" &&
			string(req.Payload) == `{"title":"T","content":"A\nB"}`
	})).Return(&apiclient.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"title":"T","content":"A\nB","last_edited_time":"2026-03-01T11:00:00Z"}`),
	}, nil)

	gw, _ := newGateway(t, client)
	res, err := gw.PushResource(testCtx(t), "r/2", "T", "A\nB", PriorityBackground)
	require.NoError(t, err)

	assert.Equal(t, "r/2", res.ID)
	assert.Equal(t, "A\nB", res.Content)
	client.AssertExpectations(t)
}

// TestGateway_ThrottleExhaustion verifies scheduler exhaustion is recoverable.
func TestGateway_ThrottleExhaustion(t *testing.T) {
	client := &mockClient{}
	client.On("Call", mock.Anything).Return(nil, &apiclient.Error{StatusCode: 429, Kind: apiclient.KindRateLimited})

	gw, _ := newGateway(t, client)
	_, err := gw.FetchResource(testCtx(t), "r1", PriorityInteractive)
	require.Error(t, err)

	assert.True(t, errors.IsRecoverable(err))
	assert.True(t, errors.Is(err, errors.ErrMaxRetriesExceeded))
	client.AssertNumberOfCalls(t, "Call", 2)
}

// TestGateway_DoCancelled verifies a queued call is dropped when the caller gives up.
func TestGateway_DoCancelled(t *testing.T) {
	client := &mockClient{}
	sched := scheduler.NewScheduler("notes", client, clock.NewFake(time.Unix(0, 0)), nil)
	defer sched.Stop()
	gw := New("notes", sched)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Do(ctx, Call{Method: apiclient.MethodGet, Endpoint: "/resources/r1"})
	require.Error(t, err)
	assert.True(t, errors.IsRecoverable(err))
	assert.Equal(t, 0, sched.Stats().Queued)
	assert.Equal(t, uint64(1), sched.Stats().Cancelled)
	client.AssertNotCalled(t, "Call", mock.Anything)
}

// TestFromRegistry verifies lookup by service key.
func TestFromRegistry(t *testing.T) {
	reg := scheduler.NewRegistry()
	require.NoError(t, reg.Register(scheduler.NewScheduler("notes", &mockClient{}, nil, nil)))

	gw, err := FromRegistry(reg, "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", gw.Service())

	_, err = FromRegistry(reg, "missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownService))
}

// =====================================================
// Normalize Tests
// =====================================================

// TestNormalize verifies failure classification.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{"throttled", &apiclient.Error{StatusCode: 429, Kind: apiclient.KindRateLimited}, true},
		{"server", &apiclient.Error{StatusCode: 503, Kind: apiclient.KindServer}, true},
		{"network", &apiclient.Error{Kind: apiclient.KindNetwork}, true},
		{"timeout", &apiclient.Error{Kind: apiclient.KindTimeout}, true},
		{"auth", &apiclient.Error{StatusCode: 401, Kind: apiclient.KindAuth}, false},
		{"rejected", &apiclient.Error{StatusCode: 404, Kind: apiclient.KindRejected}, false},
		{"max retries", &errors.MaxRetriesExceededError{Operation: "GET /x", Attempts: 5}, true},
		{"queue full", errors.New(errors.ErrRateLimitExceeded, "full"), true},
		{"stopped", errors.New(errors.ErrSchedulerStopped, "stopped"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"unknown", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Normalize("GET /resources/r1", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.recoverable, errors.IsRecoverable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, Normalize("GET /x", nil))

	already := errors.Fatal("bad", stderrors.New("x"))
	assert.Same(t, already, Normalize("GET /x", already))
}
