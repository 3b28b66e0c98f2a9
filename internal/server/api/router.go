package api

import (
	"wallvault/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes
// and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Admin-Secret"},
	}))
	e.Use(RequestLogger())

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	gate := SecretGate(cfg)

	// Health
	e.GET("/health", handler.HandleHealth)

	// Gallery reads
	e.GET("/api/wallpapers", handler.HandleWallpapers)
	e.GET("/api/latest", handler.HandleLatest)
	e.GET("/api/popular", handler.HandlePopular)
	e.GET("/api/categories", handler.HandleCategories)
	e.GET("/api/activity", handler.HandleActivity)
	e.GET("/api/stats", handler.HandleStats)

	// Downloads
	e.GET("/download/:filename", handler.HandleDownload)
	e.POST("/api/track-download", handler.HandleTrackDownload, limiter.Middleware())

	// Operator surface (secret-gated)
	e.POST("/upload", handler.HandleUpload, gate, limiter.Middleware())
	e.DELETE("/api/wallpapers/:id", handler.HandleDelete, gate)
	e.POST("/admin/sweep", handler.HandleSweep, gate)

	return e
}
