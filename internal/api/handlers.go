package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/services"
	"github.com/storesync/storesync/internal/utils"
)

const userContextKey = "user_id"

// userMiddleware reads the authenticated user placed in X-User-ID by
// the upstream auth proxy
func (s *Server) userMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID header required"})
			c.Abort()
			return
		}

		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid X-User-ID header"})
			c.Abort()
			return
		}

		c.Set(userContextKey, uint(userID))
		c.Next()
	}
}

func userFromContext(c *gin.Context) uint {
	return c.GetUint(userContextKey)
}

// respondError maps service errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case utils.IsThrottledError(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Store API is rate limiting requests, try again shortly"})
	case utils.IsDatabaseError(err):
		// Same contract as the health endpoint when the database is down.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	if err := s.db.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) connectStoreHandler(c *gin.Context) {
	var req services.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	store, err := s.storeService.Connect(c.Request.Context(), userFromContext(c), &req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to connect store")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, store)
}

func (s *Server) listStoresHandler(c *gin.Context) {
	stores, err := s.storeService.List(c.Request.Context(), userFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": stores})
}

func (s *Server) deleteStoreHandler(c *gin.Context) {
	storeID, ok := idParam(c)
	if !ok {
		return
	}

	if err := s.storeService.Delete(c.Request.Context(), userFromContext(c), storeID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) startMigrationHandler(c *gin.Context) {
	var req services.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	migration, err := s.migrationService.Start(c.Request.Context(), userFromContext(c), &req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start migration")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, migration)
}

func (s *Server) listMigrationsHandler(c *gin.Context) {
	migrations, err := s.migrationService.List(c.Request.Context(), userFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"migrations": migrations})
}

func (s *Server) getMigrationHandler(c *gin.Context) {
	migrationID, ok := idParam(c)
	if !ok {
		return
	}

	migration, err := s.migrationService.Get(c.Request.Context(), userFromContext(c), migrationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, migration)
}

func (s *Server) migrationLogsHandler(c *gin.Context) {
	migrationID, ok := idParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, err := s.migrationService.Logs(c.Request.Context(), userFromContext(c), migrationID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) migrationProgressHandler(c *gin.Context) {
	migrationID, ok := idParam(c)
	if !ok {
		return
	}

	report, err := s.migrationService.Progress(c.Request.Context(), userFromContext(c), migrationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) exportMigrationHandler(c *gin.Context) {
	migrationID, ok := idParam(c)
	if !ok {
		return
	}

	report, err := s.migrationService.Export(c.Request.Context(), userFromContext(c), migrationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) pauseMigrationHandler(c *gin.Context) {
	s.transitionHandler(c, s.migrationService.Pause)
}

func (s *Server) resumeMigrationHandler(c *gin.Context) {
	s.transitionHandler(c, s.migrationService.Resume)
}

func (s *Server) cancelMigrationHandler(c *gin.Context) {
	s.transitionHandler(c, s.migrationService.Cancel)
}

func (s *Server) transitionHandler(c *gin.Context, fn func(ctx context.Context, userID, migrationID uint) (*models.Migration, error)) {
	migrationID, ok := idParam(c)
	if !ok {
		return
	}

	migration, err := fn(c.Request.Context(), userFromContext(c), migrationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, migration)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, utils.InvalidFieldError("id", "must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}
