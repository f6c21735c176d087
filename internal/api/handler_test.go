package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/push-relay/internal/gateway"
	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
	"github.com/eternisai/push-relay/internal/storage/memory"
)

const testFCMToken = "dQw4w9WgXcQ:APA91bHun4MxP5egoKMwt2KZFBaFUH-1RYqx_Fs0nR6pN1eW7bdr8tA0nCc2Wd"

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	router *gin.Engine
	store  *memory.TokenStore
	log    *memory.DeliveryLog
}

func newTestServer(t *testing.T, db Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.Config{Level: slog.LevelError, Output: io.Discard})
	registry := prometheus.NewRegistry()
	metrics := notifications.NewMetrics(registry)

	store := memory.NewTokenStore(time.Hour, 270*24*time.Hour)
	store.AddRecipient("user-1")
	deliveryLog := memory.NewDeliveryLog(100)

	orch := notifications.NewOrchestrator(notifications.OrchestratorConfig{
		Store:   store,
		Gateway: gateway.NewDisabled(log),
		Log:     deliveryLog,
		Metrics: metrics,
		Logger:  log,
	})
	dispatcher := notifications.NewDispatcher(orch, notifications.DispatcherConfig{Workers: 1, BufferSize: 10}, metrics, log)
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	service := notifications.NewService(store, deliveryLog, dispatcher, metrics, log)
	return &testServer{
		router: NewRouter(NewHandler(service, db, log), registry, log),
		store:  store,
		log:    deliveryLog,
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRegisterToken(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{
			name:       "registers token",
			body:       map[string]string{"recipient_id": "user-1", "token": testFCMToken, "platform": "android"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token",
			body:       map[string]string{"recipient_id": "user-1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported platform",
			body:       map[string]string{"recipient_id": "user-1", "token": testFCMToken, "platform": "web"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed token",
			body:       map[string]string{"recipient_id": "user-1", "token": "undefined"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown recipient",
			body:       map[string]string{"recipient_id": "nobody", "token": testFCMToken},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			w := s.do(http.MethodPost, "/api/v1/tokens", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRegisterToken_ResponseHidesValue(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/v1/tokens", map[string]string{"recipient_id": "user-1", "token": testFCMToken})
	require.Equal(t, http.StatusOK, w.Code)

	assert.NotContains(t, w.Body.String(), testFCMToken)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp["recipient_id"])
	assert.Equal(t, "android", resp["platform"])
	assert.Equal(t, "active", resp["state"])
	assert.Equal(t, testFCMToken[:10]+"...", resp["token_prefix"])
}

func TestSubmitNotification(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.store.Register(context.Background(), "user-1", testFCMToken, notifications.PlatformAndroid)
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/api/v1/notifications", map[string]any{
		"recipient_id": "user-1",
		"title":        "Arrived",
		"body":         "Alex arrived at school",
		"importance":   "important",
		"data":         map[string]string{"type": "arrival"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp SubmitNotificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SubmissionID)
	assert.NotEmpty(t, resp.MessageID)

	assert.Eventually(t, func() bool {
		token, _, _ := s.store.Lookup(context.Background(), "user-1")
		return s.log.Len() == 1 && token.State == notifications.TokenStateActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitNotification_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing recipient", body: map[string]any{"title": "t"}},
		{name: "bad importance", body: map[string]any{"recipient_id": "user-1", "title": "t", "importance": "critical"}},
		{name: "bad mode", body: map[string]any{"recipient_id": "user-1", "title": "t", "mode": "loud"}},
		{name: "negative badge", body: map[string]any{"recipient_id": "user-1", "title": "t", "badge": -1}},
		{name: "empty alert", body: map[string]any{"recipient_id": "user-1"}},
		{name: "oversized payload", body: map[string]any{
			"recipient_id": "user-1",
			"title":        "t",
			"data":         map[string]string{"blob": strings.Repeat("x", notifications.MaxPayloadBytes)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			w := s.do(http.MethodPost, "/api/v1/notifications", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	t.Run("silent needs no content", func(t *testing.T) {
		s := newTestServer(t, nil)
		w := s.do(http.MethodPost, "/api/v1/notifications", map[string]any{"recipient_id": "user-1", "mode": "silent"})
		assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	})
}

func TestTokenHealth(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.store.Register(context.Background(), "user-1", testFCMToken, notifications.PlatformAndroid)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/v1/tokens/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health notifications.TokenHealth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, int64(1), health.ActiveCount)
}

func TestRecentFailures(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/deliveries/failures", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"failures":[]}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/notifications", map[string]any{"recipient_id": "user-1", "title": "t"})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return s.log.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	w = s.do(http.MethodGet, "/api/v1/deliveries/failures?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Failures []notifications.DeliveryAttempt `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, notifications.KindNoToken, resp.Failures[0].Kind)

	for _, bad := range []string{"0", "-3", "abc"} {
		w = s.do(http.MethodGet, "/api/v1/deliveries/failures?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestHealth(t *testing.T) {
	w := newTestServer(t, stubPinger{}).do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = newTestServer(t, stubPinger{err: errors.New("connection refused")}).do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/api/v1/tokens", map[string]string{"recipient_id": "user-1", "token": testFCMToken})

	w := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "push_token_registrations_total")
}
