// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the app store engine.
//
// This file contains the App entity, its status state machine, and the
// Backup entity. For manifest types see manifest.go, for queue events
// see event.go, and for the error taxonomy see errors.go.
package datatypes

import (
	"regexp"
	"time"
)

// =============================================================================
// App Status
// =============================================================================

// AppStatus is the lifecycle state of an installed app.
//
// An app with no persisted row is reported as StatusMissing. Transitional
// statuses (installing, starting, ...) mean an operation is in progress;
// they are never a valid resting state after a lifecycle command returns.
type AppStatus string

const (
	// StatusMissing means no row exists for the app.
	StatusMissing AppStatus = "missing"

	// StatusInstalling is the transitional state during Install.
	StatusInstalling AppStatus = "installing"

	// StatusRunning means the app's containers are up.
	StatusRunning AppStatus = "running"

	// StatusStarting is the transitional state during Start.
	StatusStarting AppStatus = "starting"

	// StatusStopping is the transitional state during Stop.
	StatusStopping AppStatus = "stopping"

	// StatusStopped means the app is installed but not running.
	StatusStopped AppStatus = "stopped"

	// StatusUpdating is the transitional state during Update.
	StatusUpdating AppStatus = "updating"

	// StatusUninstalling is the transitional state during Uninstall.
	StatusUninstalling AppStatus = "uninstalling"

	// StatusBackingUp is the transitional state during CreateBackup.
	StatusBackingUp AppStatus = "backing_up"

	// StatusRestoring is the transitional state during RestoreBackup.
	StatusRestoring AppStatus = "restoring"
)

// allStatuses is the closed set of defined statuses.
var allStatuses = map[AppStatus]bool{
	StatusMissing:      true,
	StatusInstalling:   true,
	StatusRunning:      true,
	StatusStarting:     true,
	StatusStopping:     true,
	StatusStopped:      true,
	StatusUpdating:     true,
	StatusUninstalling: true,
	StatusBackingUp:    true,
	StatusRestoring:    true,
}

// transitionalStatuses are in-progress states.
var transitionalStatuses = map[AppStatus]bool{
	StatusInstalling:   true,
	StatusStarting:     true,
	StatusStopping:     true,
	StatusUpdating:     true,
	StatusUninstalling: true,
	StatusBackingUp:    true,
	StatusRestoring:    true,
}

// Valid reports whether s is a defined member of the status enum.
func (s AppStatus) Valid() bool {
	return allStatuses[s]
}

// Transitional reports whether s means "operation in progress".
func (s AppStatus) Transitional() bool {
	return transitionalStatuses[s]
}

// String returns the status as its wire representation.
func (s AppStatus) String() string {
	return string(s)
}

// =============================================================================
// Identifier Validation
// =============================================================================

// appIDPattern validates app slugs.
// Lowercase letters, digits, and hyphens; must start alphanumeric.
var appIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// domainPattern is a pragmatic check for DNS names used as app domains.
// It rejects schemes, paths, ports, and whitespace; it does not attempt
// full RFC 1035 validation.
var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// ValidAppID reports whether id is a well-formed app slug.
func ValidAppID(id string) bool {
	return id != "" && len(id) <= 63 && appIDPattern.MatchString(id)
}

// ValidDomain reports whether d looks like a usable DNS name.
func ValidDomain(d string) bool {
	return d != "" && len(d) <= 253 && domainPattern.MatchString(d)
}

// =============================================================================
// App Entity
// =============================================================================

// App is one persisted row per installed application.
//
// # Invariants
//
//   - At most one row per ID.
//   - Status is always a defined member of the enum.
//   - An exposed app always has a non-empty, valid Domain.
//   - No two exposed apps share a Domain (enforced by the lifecycle
//     commands before any write).
//
// A row is created only by a successful Install, mutated by every other
// command, and deleted by a successful Uninstall or a failed Install.
type App struct {
	// ID is the app slug. Stable and immutable once installed.
	ID string `json:"id"`

	// Status is the current lifecycle state.
	Status AppStatus `json:"status"`

	// Config maps form-field names to user-supplied values.
	// Random-derived fields are excluded; those live only in the
	// generated env file.
	Config map[string]any `json:"config"`

	// Exposed indicates the app is published under Domain via the
	// reverse proxy.
	Exposed bool `json:"exposed"`

	// Domain is required and unique among exposed apps when Exposed
	// is true. Empty otherwise.
	Domain string `json:"domain,omitempty"`

	// Version is the manifest tipi_version recorded at the last
	// successful install or update.
	Version int `json:"version"`

	// OpenPort publishes the app port on the host.
	OpenPort bool `json:"open_port"`

	// ExposedLocal exposes the app on the local network only.
	ExposedLocal bool `json:"exposed_local"`

	// CreatedAt is when the row was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// LastOpened is when the app UI was last opened. Zero if never.
	LastOpened time.Time `json:"last_opened,omitempty"`

	// NumOpened counts UI opens.
	NumOpened int `json:"num_opened"`
}

// AppView is an App merged with its manifest for presentation.
//
// When the row is absent, Status is StatusMissing and the remaining App
// fields are manifest-derived defaults.
type AppView struct {
	App

	// Manifest is the resolved read-only descriptor, nil when the
	// manifest could not be loaded (uninstalled and absent from the
	// catalog).
	Manifest *Manifest `json:"manifest,omitempty"`

	// UpdateAvailable is true when the catalog manifest carries a
	// higher tipi_version than the installed row.
	UpdateAvailable bool `json:"update_available"`
}

// =============================================================================
// Backup Entity
// =============================================================================

// Backup is one archived snapshot of an app's data directory.
//
// Rows are immutable once written, except for deletion.
type Backup struct {
	// ID is a generated unique identifier for the backup row.
	ID string `json:"id"`

	// AppID references the owning App.
	AppID string `json:"app_id"`

	// Filename is the archive file name under the backups directory.
	Filename string `json:"filename"`

	// Version is the app version at backup time.
	Version int `json:"version"`

	// Size is the archive size in bytes.
	Size int64 `json:"size"`

	// CreatedAt is when the backup completed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt mirrors CreatedAt; kept for row-shape symmetry with App.
	UpdatedAt time.Time `json:"updated_at"`
}

// BackupPage is one page of a backup listing.
type BackupPage struct {
	// Total is the number of backups for the app across all pages.
	Total int `json:"total"`

	// PageCount is the number of pages at the requested page size.
	PageCount int `json:"page_count"`

	// Data holds the backups for the requested page, newest first.
	Data []Backup `json:"data"`
}
