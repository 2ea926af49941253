// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/lifecycle"
)

// AppService is the facade slice the HTTP layer needs. Satisfied by
// *lifecycle.Facade.
type AppService interface {
	Install(ctx context.Context, appID string, opts lifecycle.InstallOptions) error
	Start(ctx context.Context, appID string) error
	Stop(ctx context.Context, appID string) error
	Restart(ctx context.Context, appID string) error
	Update(ctx context.Context, appID string) error
	UpdateConfig(ctx context.Context, appID string, opts lifecycle.InstallOptions) error
	Uninstall(ctx context.Context, appID string, removeBackups bool) error

	CreateBackup(ctx context.Context, appID string) error
	RestoreBackup(ctx context.Context, appID, backupID string) error
	ListBackups(appID string, page, pageSize int) (*datatypes.BackupPage, error)
	DeleteBackup(ctx context.Context, appID, backupID string) error

	GetApp(appID string) (*datatypes.AppView, error)
	ListApps() ([]*datatypes.AppView, error)
	TouchApp(appID string) (*datatypes.App, error)
}

var _ AppService = (*lifecycle.Facade)(nil)

// Handlers contains the HTTP handlers for the app store API.
type Handlers struct {
	svc    AppService
	logger *slog.Logger
}

// NewHandlers creates handlers over the given service.
func NewHandlers(svc AppService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleListApps handles GET /v1/apps.
func (h *Handlers) HandleListApps(c *gin.Context) {
	views, err := h.svc.ListApps()
	if err != nil {
		h.fail(c, "HandleListApps", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": views})
}

// HandleGetApp handles GET /v1/apps/:id.
func (h *Handlers) HandleGetApp(c *gin.Context) {
	view, err := h.svc.GetApp(c.Param("id"))
	if err != nil {
		h.fail(c, "HandleGetApp", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleInstall handles POST /v1/apps/:id/install.
//
// Response:
//
//	200 OK: the installed app view
//	400 Bad Request: validation failure
//	409 Conflict: another command is running for the app
func (h *Handlers) HandleInstall(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "HandleInstall", err)
		return
	}
	err := h.svc.Install(c.Request.Context(), c.Param("id"), installOptions(req))
	h.finish(c, "HandleInstall", err)
}

// HandleStart handles POST /v1/apps/:id/start.
func (h *Handlers) HandleStart(c *gin.Context) {
	h.finish(c, "HandleStart", h.svc.Start(c.Request.Context(), c.Param("id")))
}

// HandleStop handles POST /v1/apps/:id/stop.
func (h *Handlers) HandleStop(c *gin.Context) {
	h.finish(c, "HandleStop", h.svc.Stop(c.Request.Context(), c.Param("id")))
}

// HandleRestart handles POST /v1/apps/:id/restart.
func (h *Handlers) HandleRestart(c *gin.Context) {
	h.finish(c, "HandleRestart", h.svc.Restart(c.Request.Context(), c.Param("id")))
}

// HandleUpdate handles POST /v1/apps/:id/update.
func (h *Handlers) HandleUpdate(c *gin.Context) {
	h.finish(c, "HandleUpdate", h.svc.Update(c.Request.Context(), c.Param("id")))
}

// HandleUpdateConfig handles PUT /v1/apps/:id/config.
func (h *Handlers) HandleUpdateConfig(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "HandleUpdateConfig", err)
		return
	}
	err := h.svc.UpdateConfig(c.Request.Context(), c.Param("id"), installOptions(req))
	h.finish(c, "HandleUpdateConfig", err)
}

// installOptions maps the request body onto the facade's options.
func installOptions(req InstallRequest) lifecycle.InstallOptions {
	return lifecycle.InstallOptions{
		Config:       req.Config,
		Exposed:      req.Exposed,
		Domain:       req.Domain,
		OpenPort:     req.OpenPort,
		ExposedLocal: req.ExposedLocal,
	}
}

// HandleUninstall handles POST /v1/apps/:id/uninstall. The body is
// optional; an empty body keeps backups.
func (h *Handlers) HandleUninstall(c *gin.Context) {
	var req UninstallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "HandleUninstall", err)
			return
		}
	}
	h.finish(c, "HandleUninstall",
		h.svc.Uninstall(c.Request.Context(), c.Param("id"), req.RemoveBackups))
}

// HandleTouchApp handles POST /v1/apps/:id/open, recording a UI open.
func (h *Handlers) HandleTouchApp(c *gin.Context) {
	app, err := h.svc.TouchApp(c.Param("id"))
	if err != nil {
		h.fail(c, "HandleTouchApp", err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// HandleCreateBackup handles POST /v1/apps/:id/backups.
func (h *Handlers) HandleCreateBackup(c *gin.Context) {
	h.finish(c, "HandleCreateBackup", h.svc.CreateBackup(c.Request.Context(), c.Param("id")))
}

// HandleListBackups handles GET /v1/apps/:id/backups?page=&page_size=.
func (h *Handlers) HandleListBackups(c *gin.Context) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 10)
	result, err := h.svc.ListBackups(c.Param("id"), page, pageSize)
	if err != nil {
		h.fail(c, "HandleListBackups", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleRestoreBackup handles POST /v1/apps/:id/restore.
func (h *Handlers) HandleRestoreBackup(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "HandleRestoreBackup", err)
		return
	}
	h.finish(c, "HandleRestoreBackup",
		h.svc.RestoreBackup(c.Request.Context(), c.Param("id"), req.BackupID))
}

// HandleDeleteBackup handles DELETE /v1/apps/:id/backups/:backupId.
func (h *Handlers) HandleDeleteBackup(c *gin.Context) {
	h.finish(c, "HandleDeleteBackup",
		h.svc.DeleteBackup(c.Request.Context(), c.Param("id"), c.Param("backupId")))
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// =============================================================================
// Response Helpers
// =============================================================================

// finish ends a mutating handler: the refreshed app view on success,
// the mapped error otherwise.
func (h *Handlers) finish(c *gin.Context, handler string, err error) {
	if err != nil {
		h.fail(c, handler, err)
		return
	}
	view, viewErr := h.svc.GetApp(c.Param("id"))
	if viewErr != nil {
		// Uninstall removes both row and catalog presence; a bare OK
		// is the right answer then.
		if errors.Is(viewErr, datatypes.ErrAppNotFound) || errors.Is(viewErr, datatypes.ErrManifestNotFound) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		h.fail(c, handler, viewErr)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) badRequest(c *gin.Context, handler string, err error) {
	h.logger.Warn("invalid request body", "handler", handler, "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, handler string, err error) {
	requestID := getOrCreateRequestID(c)
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, datatypes.ErrAppNotFound),
		errors.Is(err, datatypes.ErrManifestNotFound),
		errors.Is(err, datatypes.ErrBackupNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case datatypes.IsValidation(err):
		status = http.StatusBadRequest
		code = "VALIDATION_FAILED"
	case errors.Is(err, datatypes.ErrOperationInProgress),
		errors.Is(err, datatypes.ErrStatusConflict):
		status = http.StatusConflict
		code = "OPERATION_IN_PROGRESS"
	case errors.Is(err, datatypes.ErrDispatchTimeout):
		status = http.StatusGatewayTimeout
		code = "OPERATION_TIMEOUT"
	case datatypes.IsExecution(err):
		status = http.StatusBadGateway
		code = "EXECUTION_FAILED"
	}

	h.logger.Warn("request failed",
		"request_id", requestID, "handler", handler, "status", status, "error", err)
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
