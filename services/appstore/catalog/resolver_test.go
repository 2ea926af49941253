// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// testPaths builds a layout rooted in a temp directory.
func testPaths(t *testing.T) layout.Paths {
	t.Helper()
	root := t.TempDir()
	return layout.Paths{
		CatalogDir: filepath.Join(root, "catalog"),
		AppsDir:    filepath.Join(root, "apps"),
		DataDir:    filepath.Join(root, "app-data"),
		BackupsDir: filepath.Join(root, "backups"),
		StateDir:   filepath.Join(root, "state"),
	}
}

// writeManifest writes a minimal valid manifest at path.
func writeManifest(t *testing.T, path string, id string, tipiVersion int, extra string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	doc := fmt.Sprintf(`{"id":%q,"name":"Test App","port":8080,"tipi_version":%d%s}`,
		id, tipiVersion, extra)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
}

func TestResolve_CatalogFallback(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("gitea"), "gitea", 3, "")

	r := NewFileResolver(paths, nil)
	m, err := r.Resolve("gitea")
	require.NoError(t, err)
	assert.Equal(t, "gitea", m.ID)
	assert.Equal(t, 3, m.TipiVersion)
}

func TestResolve_InstalledCopyWins(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("gitea"), "gitea", 5, "")
	writeManifest(t, paths.InstalledManifest("gitea"), "gitea", 3, "")

	r := NewFileResolver(paths, nil)
	m, err := r.Resolve("gitea")
	require.NoError(t, err)
	assert.Equal(t, 3, m.TipiVersion, "installed copy must take precedence")
}

func TestResolveCatalog_IgnoresInstalledCopy(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("gitea"), "gitea", 5, "")
	writeManifest(t, paths.InstalledManifest("gitea"), "gitea", 3, "")

	r := NewFileResolver(paths, nil)
	m, err := r.ResolveCatalog("gitea")
	require.NoError(t, err)
	assert.Equal(t, 5, m.TipiVersion, "the upstream copy is the one that moves")

	m, err = r.CheckRequirements("gitea")
	require.NoError(t, err)
	assert.Equal(t, 5, m.TipiVersion, "requirements gate the copy that will be deployed")
}

func TestResolve_NotFound(t *testing.T) {
	r := NewFileResolver(testPaths(t), nil)
	_, err := r.Resolve("ghost")
	assert.ErrorIs(t, err, datatypes.ErrManifestNotFound)
}

func TestResolve_MalformedTreatedAsAbsent(t *testing.T) {
	paths := testPaths(t)
	path := paths.CatalogManifest("broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	r := NewFileResolver(paths, nil)
	_, err := r.Resolve("broken")
	assert.ErrorIs(t, err, datatypes.ErrManifestNotFound)
}

func TestResolve_RejectsInvalidAppID(t *testing.T) {
	r := NewFileResolver(testPaths(t), nil)
	_, err := r.Resolve("../etc")
	assert.ErrorIs(t, err, datatypes.ErrManifestNotFound)
}

func TestCheckRequirements_ArchitectureMismatch(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("armonly"), "armonly", 1,
		`,"supported_architectures":["arm64"]`)

	r := NewFileResolver(paths, nil).WithArchitecture("amd64")
	_, err := r.CheckRequirements("armonly")

	var ve *datatypes.ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	assert.Equal(t, "supported_architectures", ve.Field)
}

func TestCheckRequirements_ArchitectureMatch(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("multi"), "multi", 1,
		`,"supported_architectures":["arm64","amd64"]`)

	r := NewFileResolver(paths, nil).WithArchitecture("amd64")
	m, err := r.CheckRequirements("multi")
	require.NoError(t, err)
	assert.Equal(t, "multi", m.ID)
}

func TestList_SkipsBrokenEntries(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("good-one"), "good-one", 1, "")
	writeManifest(t, paths.CatalogManifest("good-two"), "good-two", 2, "")

	brokenPath := paths.CatalogManifest("broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(brokenPath), 0755))
	require.NoError(t, os.WriteFile(brokenPath, []byte(`{"id":"broken"}`), 0644))

	r := NewFileResolver(paths, nil)
	manifests, err := r.List()
	require.NoError(t, err)
	assert.Len(t, manifests, 2)
}

func TestList_EmptyCatalog(t *testing.T) {
	r := NewFileResolver(testPaths(t), nil)
	manifests, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestResolver_CacheInvalidation(t *testing.T) {
	paths := testPaths(t)
	writeManifest(t, paths.CatalogManifest("app-a"), "app-a", 1, "")

	r := NewFileResolver(paths, nil)
	m, err := r.Resolve("app-a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.TipiVersion)

	// Rewrite with a newer revision and drop the cache entry; the
	// resolver must pick up the new content even if the filesystem
	// modtime granularity hides the rewrite.
	writeManifest(t, paths.CatalogManifest("app-a"), "app-a", 2, "")
	r.Invalidate("app-a")

	m, err = r.Resolve("app-a")
	require.NoError(t, err)
	assert.Equal(t, 2, m.TipiVersion)
}
