// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appdock.yaml")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "first run must write the default file")
	assert.Equal(t, 8098, cfg.Server.Port)
	assert.Equal(t, "docker", cfg.Compose.Binary)
	assert.Equal(t, "@every 6h", cfg.Repo.SyncSchedule)
}

func TestLoadFromParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appdock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /srv/appdock
server:
  port: 9000
  internal_ip: 10.0.0.5
repo:
  url: https://example.com/catalog.git
timeouts:
  install: 20m
`), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/appdock", cfg.Root)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5", cfg.Server.InternalIP)
	assert.Equal(t, "https://example.com/catalog.git", cfg.Repo.URL)
	assert.Equal(t, "docker", cfg.Compose.Binary, "omitted fields fall back to defaults")
	assert.Equal(t, 20*time.Minute, cfg.Timeouts.Duration(cfg.Timeouts.Install))
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appdock.yaml")
	t.Setenv("APPDOCK_SERVER_PORT", "9999")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLayoutMapsRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = "/srv/appdock"

	paths := cfg.Layout()
	assert.Equal(t, "/srv/appdock/repo", paths.CatalogDir)
	assert.Equal(t, "/srv/appdock/apps", paths.AppsDir)
	assert.Equal(t, "/srv/appdock/app-data", paths.DataDir)
	assert.Equal(t, "/srv/appdock/backups", paths.BackupsDir)
	assert.Equal(t, "/srv/appdock/state", paths.StateDir)
}

func TestDurationToleratesJunk(t *testing.T) {
	var tc TimeoutConfig
	assert.Equal(t, time.Duration(0), tc.Duration(""))
	assert.Equal(t, time.Duration(0), tc.Duration("soon"))
	assert.Equal(t, time.Duration(0), tc.Duration("-5m"))
	assert.Equal(t, 90*time.Second, tc.Duration("90s"))
}
