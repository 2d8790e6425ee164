package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/types"
)

func noSleep() BaseClientOption {
	return WithSleepFunc(func(time.Duration) {})
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestBaseClientDo_Success(t *testing.T) {
	var gotUA, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReqID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", testPolicy(), "omnirelay/1.0", types.ErrCodeChannelDelivery, noSleep())

	ctx := types.WithRequestID(context.Background(), "req-1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "omnirelay/1.0", gotUA)
	assert.Equal(t, "req-1", gotReqID)
}

func TestBaseClientDo_RetriesOn5xxAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", testPolicy(), "", types.ErrCodeChannelDelivery, noSleep())

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
	for _, b := range bodies {
		assert.Equal(t, `{"text":"hi"}`, b)
	}
}

func TestBaseClientDo_ExhaustedRetriesMapToFailCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", testPolicy(), "", types.ErrCodeWebhookDelivery, noSleep())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = bc.Do(req)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeWebhookDelivery, appErr.Code)
}

func TestBaseClientDo_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", testPolicy(), "", types.ErrCodeChannelDelivery, noSleep())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComputeBackoff_RespectsRetryAfterSeconds(t *testing.T) {
	bc := NewBaseClient(http.DefaultClient, "test", RetryPolicy{MinWait: time.Second, MaxWait: 3 * time.Second}, "", types.ErrCodeChannelDelivery)

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"2"}}}
	assert.Equal(t, 2*time.Second, bc.computeBackoff(0, resp))

	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 3*time.Second, bc.computeBackoff(0, resp))
}

func TestComputeBackoff_GrowsWithAttempts(t *testing.T) {
	policy := RetryPolicy{MinWait: 100 * time.Millisecond, MaxWait: 10 * time.Second}
	bc := NewBaseClient(http.DefaultClient, "test", policy, "", types.ErrCodeChannelDelivery)

	for attempt := 0; attempt < 5; attempt++ {
		wait := bc.computeBackoff(attempt, nil)
		assert.GreaterOrEqual(t, wait, policy.MinWait)
		assert.LessOrEqual(t, wait, policy.MaxWait)
	}
}
