// Package handler is the thin HTTP surface over the lifecycle
// subsystem. Handlers only marshal requests and responses; every
// decision lives in the core packages.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/tempstore/pkg/cleanup"
	"github.com/zots0127/tempstore/pkg/metrics"
	"github.com/zots0127/tempstore/pkg/quota"
	"github.com/zots0127/tempstore/pkg/registry"
	"github.com/zots0127/tempstore/pkg/session"
	"github.com/zots0127/tempstore/pkg/stats"
	"github.com/zots0127/tempstore/pkg/types"
)

// API handles HTTP requests
type API struct {
	registry *registry.Registry
	ledger   *quota.Ledger
	sessions *session.Aggregator
	janitor  *cleanup.Janitor
	history  *cleanup.HistoryStore // nil when history is disabled
	reporter *stats.Reporter
}

// NewAPI creates a new API instance
func NewAPI(reg *registry.Registry, ledger *quota.Ledger, sessions *session.Aggregator,
	janitor *cleanup.Janitor, history *cleanup.HistoryStore, reporter *stats.Reporter) *API {
	return &API{
		registry: reg,
		ledger:   ledger,
		sessions: sessions,
		janitor:  janitor,
		history:  history,
		reporter: reporter,
	}
}

// RegisterRoutes registers API routes
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.POST("/files", a.createFile)
	api.GET("/files/:id", a.getFile)
	api.PATCH("/files/:id", a.updateFile)
	api.DELETE("/files/:id", a.deleteFile)

	api.GET("/users/:userId/files", a.listUserFiles)
	api.GET("/users/:userId/quota", a.getUserQuota)

	api.GET("/sessions/:sessionId", a.getSession)

	api.GET("/stats", a.getStats)

	api.POST("/cleanup", a.triggerCleanup)
	api.GET("/cleanup/history", a.getCleanupHistory)

	api.GET("/health", a.healthCheck)
}

// statusFor maps subsystem errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, types.ErrTooManyConcurrentUploads):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// createFile registers a new temporary file after quota admission
func (a *API) createFile(c *gin.Context) {
	var req types.CreateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Message: "Invalid request body",
			Error:   err.Error(),
		})
		return
	}

	file, err := a.registry.Create(&req)
	if err != nil {
		c.JSON(statusFor(err), types.APIResponse{
			Success: false,
			Message: "Failed to create file",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, types.APIResponse{
		Success: true,
		Message: "File created",
		Data:    file,
	})
}

// getFile returns one file record
func (a *API) getFile(c *gin.Context) {
	file, err := a.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), types.APIResponse{
			Success: false,
			Message: "File not found",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "File retrieved",
		Data:    file,
	})
}

// updateFile applies a partial patch to a file record
func (a *API) updateFile(c *gin.Context) {
	var patch types.UpdateFileRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Message: "Invalid request body",
			Error:   err.Error(),
		})
		return
	}

	file, err := a.registry.Update(c.Param("id"), &patch)
	if err != nil {
		c.JSON(statusFor(err), types.APIResponse{
			Success: false,
			Message: "Failed to update file",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "File updated",
		Data:    file,
	})
}

// deleteFile removes a file record. Unknown ids and storage failures
// both report success: deletion is idempotent and the registry is the
// source of truth.
func (a *API) deleteFile(c *gin.Context) {
	if err := a.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		// Storage delete failures are logged by the registry; the
		// record is gone regardless.
		if !errors.Is(err, types.ErrStorageDeleteFailed) {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Message: "Failed to delete file",
				Error:   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "File deleted",
	})
}

// listUserFiles returns the user's files in creation order
func (a *API) listUserFiles(c *gin.Context) {
	files := a.registry.ListByUser(c.Param("userId"))

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Files retrieved",
		Data:    files,
	})
}

// getUserQuota returns the user's quota snapshot
func (a *API) getUserQuota(c *gin.Context) {
	quotaSnapshot := a.ledger.Get(c.Param("userId"))

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Quota retrieved",
		Data:    quotaSnapshot,
	})
}

// getSession returns the session rollup
func (a *API) getSession(c *gin.Context) {
	s, err := a.sessions.Get(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Message: "Session not found",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Session retrieved",
		Data:    s,
	})
}

// getStats returns the storage statistics summary
func (a *API) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Stats retrieved",
		Data:    a.reporter.Summarize(),
	})
}

// triggerCleanup runs a manual sweep with caller-supplied parameters
func (a *API) triggerCleanup(c *gin.Context) {
	var req types.CleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Message: "Invalid request body",
				Error:   err.Error(),
			})
			return
		}
	}

	metrics.SweepsTotal.WithLabelValues("manual").Inc()

	result, ran := a.janitor.Sweep(context.Background(), &req)
	if !ran {
		c.JSON(http.StatusConflict, types.APIResponse{
			Success: false,
			Message: "A sweep is already in progress",
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Cleanup completed",
		Data:    result,
	})
}

// getCleanupHistory lists recent sweep reports
func (a *API) getCleanupHistory(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Message: "Cleanup history is disabled",
		})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Message: "Invalid limit",
			})
			return
		}
		limit = parsed
	}

	runs, err := a.history.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Message: "Failed to read cleanup history",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Cleanup history retrieved",
		Data:    runs,
	})
}

// healthCheck reports component wiring
func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"files_tracked":   a.registry.Count(),
		"sessions":        a.sessions.Count(),
		"history_enabled": a.history != nil,
	})
}
