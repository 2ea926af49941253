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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all app store routes with the router group.
//
// App Endpoints:
//
//	GET  /v1/apps - List installed apps
//	GET  /v1/apps/:id - Get one app merged with its manifest
//	POST /v1/apps/:id/install - Install from the catalog
//	POST /v1/apps/:id/start - Start a stopped app
//	POST /v1/apps/:id/stop - Stop a running app
//	POST /v1/apps/:id/restart - Stop then start
//	POST /v1/apps/:id/update - Update to the catalog version
//	PUT  /v1/apps/:id/config - Replace user config
//	POST /v1/apps/:id/uninstall - Tear down and delete
//	POST /v1/apps/:id/open - Record a UI open
//
// Backup Endpoints:
//
//	POST   /v1/apps/:id/backups - Create a backup
//	GET    /v1/apps/:id/backups - List backups (paged)
//	POST   /v1/apps/:id/restore - Restore a named backup
//	DELETE /v1/apps/:id/backups/:backupId - Delete a backup
//
// Health Endpoints:
//
//	GET /v1/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	apps := rg.Group("/apps")
	{
		apps.GET("", handlers.HandleListApps)
		apps.GET("/:id", handlers.HandleGetApp)

		apps.POST("/:id/install", handlers.HandleInstall)
		apps.POST("/:id/start", handlers.HandleStart)
		apps.POST("/:id/stop", handlers.HandleStop)
		apps.POST("/:id/restart", handlers.HandleRestart)
		apps.POST("/:id/update", handlers.HandleUpdate)
		apps.PUT("/:id/config", handlers.HandleUpdateConfig)
		apps.POST("/:id/uninstall", handlers.HandleUninstall)
		apps.POST("/:id/open", handlers.HandleTouchApp)

		apps.POST("/:id/backups", handlers.HandleCreateBackup)
		apps.GET("/:id/backups", handlers.HandleListBackups)
		apps.POST("/:id/restore", handlers.HandleRestoreBackup)
		apps.DELETE("/:id/backups/:backupId", handlers.HandleDeleteBackup)
	}

	rg.GET("/health", handlers.HandleHealth)
}

// NewRouter builds the engine with recovery middleware, the versioned
// API group, and an optional /metrics handler.
func NewRouter(handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("appdock"))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
