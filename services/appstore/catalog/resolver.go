// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package catalog resolves read-only app manifests.

Every installable app ships a manifest (config.json) in two possible
locations: the live installed copy under the apps directory, and the
upstream copy under the synced catalog. The resolver prefers the
installed copy when it exists so a running app keeps seeing the manifest
it was installed with, and falls back to the catalog for apps that are
not installed yet. ResolveCatalog reads the upstream copy directly for
callers that need the current version rather than the installed
snapshot.

Malformed manifests are logged and treated as absent so listing
operations never fail on one broken catalog entry.
*/
package catalog

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"log/slog"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Resolver loads and validates app manifests.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the lifecycle facade
// calls Resolve from concurrent commands.
type Resolver interface {
	// Resolve returns the manifest for appID, reading the installed
	// copy when present and the catalog copy otherwise.
	//
	// Returns datatypes.ErrManifestNotFound when neither copy exists
	// or the manifest fails schema validation.
	Resolve(appID string) (*datatypes.Manifest, error)

	// ResolveCatalog returns the catalog copy of the manifest,
	// ignoring any installed copy. Deployments and update-availability
	// checks need the upstream version, not the install-time snapshot.
	ResolveCatalog(appID string) (*datatypes.Manifest, error)

	// CheckRequirements resolves the catalog manifest and additionally
	// rejects apps whose supported_architectures excludes the current
	// host. Install and update both deploy the catalog copy, so that
	// is the copy whose requirements matter.
	//
	// Returns a datatypes.ValidationError on architecture mismatch.
	CheckRequirements(appID string) (*datatypes.Manifest, error)

	// List returns the manifests of every valid catalog entry.
	// Broken entries are skipped, never fatal.
	List() ([]*datatypes.Manifest, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// FileResolver implements Resolver over the on-disk layout, with a
// small modtime-keyed cache that the catalog watcher invalidates.
type FileResolver struct {
	paths  layout.Paths
	arch   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedManifest
}

type cachedManifest struct {
	manifest *datatypes.Manifest
	modTime  int64
	path     string
}

// NewFileResolver creates a resolver over paths.
//
// The host architecture defaults to runtime.GOARCH; tests can override
// it with WithArchitecture.
func NewFileResolver(paths layout.Paths, logger *slog.Logger) *FileResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileResolver{
		paths:  paths,
		arch:   runtime.GOARCH,
		logger: logger,
		cache:  make(map[string]cachedManifest),
	}
}

// WithArchitecture overrides the architecture used by CheckRequirements.
func (r *FileResolver) WithArchitecture(arch string) *FileResolver {
	r.arch = arch
	return r
}

// Resolve implements Resolver.
func (r *FileResolver) Resolve(appID string) (*datatypes.Manifest, error) {
	if !datatypes.ValidAppID(appID) {
		return nil, fmt.Errorf("%w: invalid app id %q", datatypes.ErrManifestNotFound, appID)
	}

	// Installed copy wins so a running app keeps its install-time view.
	if m, err := r.load(r.paths.InstalledManifest(appID)); err == nil {
		return m, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("installed manifest unreadable, falling back to catalog",
			"app_id", appID, "error", err)
	}

	return r.ResolveCatalog(appID)
}

// ResolveCatalog implements Resolver.
func (r *FileResolver) ResolveCatalog(appID string) (*datatypes.Manifest, error) {
	if !datatypes.ValidAppID(appID) {
		return nil, fmt.Errorf("%w: invalid app id %q", datatypes.ErrManifestNotFound, appID)
	}
	m, err := r.load(r.paths.CatalogManifest(appID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("catalog manifest invalid", "app_id", appID, "error", err)
		}
		return nil, fmt.Errorf("%w: %s", datatypes.ErrManifestNotFound, appID)
	}
	return m, nil
}

// CheckRequirements implements Resolver.
func (r *FileResolver) CheckRequirements(appID string) (*datatypes.Manifest, error) {
	m, err := r.ResolveCatalog(appID)
	if err != nil {
		return nil, err
	}
	if !m.SupportsArchitecture(r.arch) {
		return nil, datatypes.NewValidationError("supported_architectures",
			fmt.Sprintf("app %q does not support architecture %q", appID, r.arch))
	}
	return m, nil
}

// List implements Resolver.
func (r *FileResolver) List() ([]*datatypes.Manifest, error) {
	entries, err := os.ReadDir(r.paths.CatalogApp(""))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var manifests []*datatypes.Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := r.load(r.paths.CatalogManifest(entry.Name()))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("skipping broken catalog entry",
					"app_id", entry.Name(), "error", err)
			}
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Invalidate drops cached entries for appID, or the whole cache when
// appID is empty. Called by the catalog watcher.
func (r *FileResolver) Invalidate(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appID == "" {
		r.cache = make(map[string]cachedManifest)
		return
	}
	delete(r.cache, r.paths.InstalledManifest(appID))
	delete(r.cache, r.paths.CatalogManifest(appID))
}

// load reads, parses, and caches one manifest file.
func (r *FileResolver) load(path string) (*datatypes.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.cache[path]
	r.mu.RUnlock()
	if ok && cached.modTime == info.ModTime().UnixNano() {
		return cached.manifest, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := datatypes.ParseManifest(data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[path] = cachedManifest{manifest: m, modTime: info.ModTime().UnixNano(), path: path}
	r.mu.Unlock()
	return m, nil
}
