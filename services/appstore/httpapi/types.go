// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the thin HTTP surface over the lifecycle facade.
//
// Handlers translate routes and JSON bodies into facade calls and map
// the error taxonomy onto status codes; no app logic lives here.
package httpapi

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// InstallRequest is the body for install and config-update calls.
type InstallRequest struct {
	// Config maps form-field env variables to user-supplied values.
	Config map[string]any `json:"config"`

	// Exposed publishes the app under Domain.
	Exposed bool `json:"exposed"`

	// Domain is required when Exposed is true.
	Domain string `json:"domain"`

	// OpenPort publishes the app port on the host.
	OpenPort bool `json:"open_port"`

	// ExposedLocal exposes the app on the local network only.
	ExposedLocal bool `json:"exposed_local"`
}

// UninstallRequest is the optional body for uninstall calls.
type UninstallRequest struct {
	// RemoveBackups also deletes the app's backup rows and archives.
	RemoveBackups bool `json:"remove_backups"`
}

// RestoreRequest names the backup to restore.
type RestoreRequest struct {
	BackupID string `json:"backup_id" binding:"required"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
