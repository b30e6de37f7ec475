// Package api exposes the migration service over HTTP. The server is
// deliberately thin: request parsing and status codes here, all
// behavior in the services package. Authentication is expected to
// happen upstream; the authenticated user arrives in the X-User-ID
// header.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/database"
	"github.com/storesync/storesync/internal/services"
)

type Server struct {
	router           *gin.Engine
	config           *config.Config
	db               *database.Database
	migrationService *services.MigrationService
	storeService     *services.StoreService
	logger           zerolog.Logger
	httpServer       *http.Server
}

func NewServer(cfg *config.Config, db *database.Database, migrationService *services.MigrationService, storeService *services.StoreService, logger zerolog.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowOrigins
	} else {
		// Default origins for development
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000", "http://127.0.0.1:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-User-ID", "X-Requested-With"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Type"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour

	router.Use(cors.New(corsConfig))

	server := &Server{
		router:           router,
		config:           cfg,
		db:               db,
		migrationService: migrationService,
		storeService:     storeService,
		logger:           logger,
	}

	server.setupRoutes()

	return server, nil
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthHandler)

	// API v1
	v1 := s.router.Group("/api/v1")
	v1.Use(s.userMiddleware())
	{
		stores := v1.Group("/stores")
		{
			stores.POST("", s.connectStoreHandler)
			stores.GET("", s.listStoresHandler)
			stores.DELETE("/:id", s.deleteStoreHandler)
		}

		migrations := v1.Group("/migrations")
		{
			migrations.POST("", s.startMigrationHandler)
			migrations.GET("", s.listMigrationsHandler)
			migrations.GET("/:id", s.getMigrationHandler)
			migrations.GET("/:id/logs", s.migrationLogsHandler)
			migrations.GET("/:id/progress", s.migrationProgressHandler)
			migrations.GET("/:id/export", s.exportMigrationHandler)
			migrations.PUT("/:id/pause", s.pauseMigrationHandler)
			migrations.PUT("/:id/resume", s.resumeMigrationHandler)
			migrations.DELETE("/:id/cancel", s.cancelMigrationHandler)
		}
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Info().
			Str("client_ip", clientIP).
			Str("method", method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("error", errorMessage).
			Msg("HTTP request")
	}
}
