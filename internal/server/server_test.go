package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmitchellscott/onebit/internal/config"
	"github.com/rmitchellscott/onebit/internal/handlers"
	"github.com/rmitchellscott/onebit/internal/imageprocessing"
	"github.com/rmitchellscott/onebit/internal/middleware"
	"github.com/rmitchellscott/onebit/internal/storage"
)

func testRouter(t *testing.T, burst int) (http.Handler, string) {
	t.Helper()
	settings := config.Defaults().Server
	settings.GinMode = "test"
	settings.StaticDir = t.TempDir()
	settings.MaxUploadMB = 1

	session := imageprocessing.NewSession(imageprocessing.DefaultProcessingOptions())
	t.Cleanup(func() { session.Close() })

	h := &handlers.Handler{
		Session:      session,
		Storage:      storage.NewImageStorage(settings.StaticDir, settings.StaticURL),
		FetchTimeout: time.Second,
	}
	limiter := middleware.NewClientRateLimiter(0.001, burst)
	return NewRouter(settings, h, limiter), settings.StaticDir
}

func TestRouterRoutes(t *testing.T) {
	router, staticDir := testRouter(t, 10)
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "a.png"), []byte("png"), 0644))

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/version", http.StatusOK},
		{http.MethodGet, "/api/config", http.StatusOK},
		{http.MethodGet, "/api/conversions", http.StatusNotFound},
		{http.MethodPost, "/api/dither", http.StatusBadRequest},
		{http.MethodGet, "/static/dithered/a.png", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRouterRateLimitsDither(t *testing.T) {
	router, _ := testRouter(t, 1)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/dither", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/dither", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// other endpoints are not limited
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSExposesStatsHeaders(t *testing.T) {
	router, _ := testRouter(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://client.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Onebit-Width")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunRejectsBadAddress(t *testing.T) {
	err := Run(context.Background(), "not-an-address", http.NotFoundHandler())
	assert.Error(t, err)
}
