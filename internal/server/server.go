package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rmitchellscott/onebit/internal/config"
	"github.com/rmitchellscott/onebit/internal/handlers"
	"github.com/rmitchellscott/onebit/internal/logging"
	"github.com/rmitchellscott/onebit/internal/middleware"
)

// ShutdownTimeout bounds how long in-flight requests may run after a stop
// signal.
const ShutdownTimeout = 30 * time.Second

// NewRouter wires the API and static routes
func NewRouter(settings config.ServerSettings, h *handlers.Handler, limiter *middleware.ClientRateLimiter) *gin.Engine {
	if settings.GinMode != "" {
		gin.SetMode(settings.GinMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.ExposeHeaders = []string{
		"X-Onebit-Conversion-Id",
		"X-Onebit-Width",
		"X-Onebit-Height",
		"X-Onebit-White",
		"X-Onebit-Black",
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthHandler)
		api.GET("/version", handlers.VersionHandler)
		api.GET("/config", h.ConfigHandler)

		api.POST("/dither",
			limiter.RateLimit(),
			middleware.RequestSizeLimit(int64(settings.MaxUploadMB)<<20),
			h.DitherHandler)

		api.GET("/conversions", h.ListConversionsHandler)
		api.GET("/conversions/stats", h.ConversionStatsHandler)
		api.GET("/conversions/:id", h.GetConversionHandler)
	}

	if err := os.MkdirAll(settings.StaticDir, 0755); err != nil {
		logging.WarnWithComponent(logging.ComponentStorage, "Failed to create static directory", "dir", settings.StaticDir, "error", err)
	}
	router.Static(settings.StaticURL, settings.StaticDir)

	return router
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully
func Run(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler)
}

// Serve is Run on an existing listener
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.InfoWithComponent(logging.ComponentStartup, "Listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.InfoWithComponent(logging.ComponentShutdown, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.InfoWithComponent(logging.ComponentShutdown, "Server stopped")
	return nil
}
