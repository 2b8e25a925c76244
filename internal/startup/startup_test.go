package startup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/storage/memory"
)

func TestMetricsRouter(t *testing.T) {
	req := require.New(t)
	online := true
	h := MetricsRouter("", func() bool { return online })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	req.Equal(http.StatusOK, rec.Code)

	online = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	req.Equal(http.StatusServiceUnavailable, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "go_goroutines")

	r = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.RemoteAddr = "8.8.8.8:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusForbidden, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.RemoteAddr = "8.8.8.8:4000"
	r.Header.Set("X-Real-Ip", "127.0.0.1")
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusForbidden, rec.Code)
}

func TestOpenLedgerStore_Memory(t *testing.T) {
	store, err := OpenLedgerStore(context.Background(), &config.Config{}, "test: ")
	require.NoError(t, err)
	require.IsType(t, &memory.Client{}, store)
}

func TestConnectRedisWithRetry_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := ConnectRedisWithRetry(ctx, "redis://127.0.0.1:1/0", 0, "test: ")
	require.Error(t, err)
}
