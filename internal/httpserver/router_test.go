package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/sender"
	"notifyhub/internal/service"
	memstore "notifyhub/internal/store/memory"
)

const testSecret = "test-secret"

type nopSender struct{}

func (nopSender) SendEmail(ctx context.Context, msg sender.EmailMessage) (sender.Result, error) {
	return sender.Result{}, nil
}
func (nopSender) SendPush(ctx context.Context, sub model.PushSubscription, msg sender.PushMessage) (sender.Result, error) {
	return sender.Result{}, nil
}
func (nopSender) SendSMS(ctx context.Context, msg sender.SMSMessage) (sender.Result, error) {
	return sender.Result{}, nil
}
func (nopSender) SendInApp(ctx context.Context, msg sender.InAppMessage) (sender.Result, error) {
	return sender.Result{}, nil
}

func newServer(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	st := memstore.New()
	cfg := queue.Config{Attempts: 3, BackoffBase: 5 * time.Millisecond, Concurrency: 1}
	svc := service.New(st, sender.Senders{
		Email: nopSender{}, Push: nopSender{}, SMS: nopSender{}, InApp: nopSender{},
	}, func(name string, cfg queue.Config) queue.Queue {
		return queue.NewMemory(name, cfg, logger)
	}, cfg, nil, logger)
	t.Cleanup(func() {
		require.NoError(t, svc.Shutdown(context.Background()))
	})
	return NewRouter(svc, nil, testSecret)
}

func do(t *testing.T, r *Router, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthEndpointsArePublic(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodGet, "/api/queues/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/api/queues/stats", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := GenerateToken("ops", testSecret)
	require.NoError(t, err)
	w = do(t, r, http.MethodGet, "/api/queues/stats", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitAndStatus(t *testing.T) {
	r := newServer(t)
	token, err := GenerateToken("ops", testSecret)
	require.NoError(t, err)

	w := do(t, r, http.MethodPost, "/api/notifications", model.Request{
		UserID:  "u1",
		Type:    "welcome",
		Channel: model.ChannelEmail,
		Title:   "Hi",
		Content: "Hello",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		NotificationID string `json:"notificationId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.NotificationID)

	w = do(t, r, http.MethodGet, "/api/notifications/"+resp.NotificationID, nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/notifications/nope", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRejectsBadRequest(t *testing.T) {
	r := newServer(t)
	token, err := GenerateToken("ops", testSecret)
	require.NoError(t, err)

	w := do(t, r, http.MethodPost, "/api/notifications", model.Request{
		UserID:  "u1",
		Type:    "welcome",
		Channel: "FAX",
		Title:   "Hi",
		Content: "Hello",
	}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueAdminEndpoints(t *testing.T) {
	r := newServer(t)
	token, err := GenerateToken("ops", testSecret)
	require.NoError(t, err)

	w := do(t, r, http.MethodPost, "/api/queues/email/pause", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/queues/email/resume", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/queues/telegraph/pause", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/queues/email/clean?grace_seconds=0", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/queues/email/clean?grace_seconds=x", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/queues/email/jobs/missing/retry", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
