// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout centralizes the on-disk directory structure the engine
// coordinates:
//
//	catalog/apps/<id>/        read-only catalog copy (manifest, compose, data/)
//	apps/<id>/                live installed copy
//	app-data/<id>/            per-app mutable data directory + env file
//	backups/<id>/             backup archives
//	state/                    seed file, store, system snapshots
//
// Every component takes a Paths value instead of assembling paths
// itself, so tests can point the whole engine at a temp directory.
package layout

import "path/filepath"

// ManifestFile is the manifest file name inside an app directory.
const ManifestFile = "config.json"

// ComposeFile is the compose bundle file name inside an app directory.
const ComposeFile = "docker-compose.yml"

// EnvFileName is the generated env file name inside an app's data dir.
const EnvFileName = "app.env"

// TemplateSuffix marks files in the packaged data directory whose
// {{KEY}} placeholders are substituted during rendering.
const TemplateSuffix = ".template"

// Paths holds the root directories the engine operates on.
type Paths struct {
	// CatalogDir is the root of the synced catalog repository.
	CatalogDir string

	// AppsDir holds the live copy of each installed app definition.
	AppsDir string

	// DataDir holds each app's mutable data directory.
	DataDir string

	// BackupsDir holds backup archives, one subdirectory per app.
	BackupsDir string

	// StateDir holds engine state: seed file, store, snapshots.
	StateDir string
}

// CatalogApp returns the catalog directory for an app.
func (p Paths) CatalogApp(appID string) string {
	return filepath.Join(p.CatalogDir, "apps", appID)
}

// CatalogManifest returns the catalog manifest path for an app.
func (p Paths) CatalogManifest(appID string) string {
	return filepath.Join(p.CatalogApp(appID), ManifestFile)
}

// InstalledApp returns the live app definition directory.
func (p Paths) InstalledApp(appID string) string {
	return filepath.Join(p.AppsDir, appID)
}

// InstalledManifest returns the installed manifest path for an app.
func (p Paths) InstalledManifest(appID string) string {
	return filepath.Join(p.InstalledApp(appID), ManifestFile)
}

// AppData returns the mutable data directory for an app.
func (p Paths) AppData(appID string) string {
	return filepath.Join(p.DataDir, appID)
}

// EnvFile returns the generated env file path for an app.
func (p Paths) EnvFile(appID string) string {
	return filepath.Join(p.AppData(appID), EnvFileName)
}

// AppBackups returns the backup archive directory for an app.
func (p Paths) AppBackups(appID string) string {
	return filepath.Join(p.BackupsDir, appID)
}

// SeedFile returns the secret seed path.
func (p Paths) SeedFile() string {
	return filepath.Join(p.StateDir, "seed")
}

// StorePath returns the embedded store directory.
func (p Paths) StorePath() string {
	return filepath.Join(p.StateDir, "store")
}

// SystemInfoFile returns the system snapshot path.
func (p Paths) SystemInfoFile() string {
	return filepath.Join(p.StateDir, "system-info.json")
}
