// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpenPersistent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	require.NoError(t, s.PutApp(&datatypes.App{ID: "gitea", Status: datatypes.StatusStopped}))
	require.NoError(t, s.Close())

	// Rows survive a reopen.
	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	app, err := s2.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
}

func TestCloseIdempotent(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestAppCRUD(t *testing.T) {
	s := testStore(t)

	_, err := s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)

	app := &datatypes.App{
		ID:     "gitea",
		Status: datatypes.StatusRunning,
		Config: map[string]any{"ADMIN_EMAIL": "admin@example.com"},
	}
	require.NoError(t, s.PutApp(app))
	assert.False(t, app.CreatedAt.IsZero())
	assert.False(t, app.UpdatedAt.IsZero())

	got, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, "gitea", got.ID)
	assert.Equal(t, datatypes.StatusRunning, got.Status)
	assert.Equal(t, "admin@example.com", got.Config["ADMIN_EMAIL"])

	require.NoError(t, s.DeleteApp("gitea"))
	_, err = s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
	assert.ErrorIs(t, s.DeleteApp("gitea"), datatypes.ErrAppNotFound)
}

func TestPutAppRejectsUndefinedStatus(t *testing.T) {
	s := testStore(t)
	err := s.PutApp(&datatypes.App{ID: "gitea", Status: "sideways"})
	assert.Error(t, err)
}

func TestListAppsSorted(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"nextcloud", "gitea", "adguard"} {
		require.NoError(t, s.PutApp(&datatypes.App{ID: id, Status: datatypes.StatusStopped}))
	}

	apps, err := s.ListApps()
	require.NoError(t, err)
	require.Len(t, apps, 3)
	assert.Equal(t, "adguard", apps[0].ID)
	assert.Equal(t, "gitea", apps[1].ID)
	assert.Equal(t, "nextcloud", apps[2].ID)
}

func TestSetStatusFrom(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutApp(&datatypes.App{ID: "gitea", Status: datatypes.StatusStopped}))

	app, err := s.SetStatusFrom("gitea", datatypes.StatusStopped, datatypes.StatusStarting)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStarting, app.Status)

	// The expected-from no longer matches.
	_, err = s.SetStatusFrom("gitea", datatypes.StatusStopped, datatypes.StatusStarting)
	assert.ErrorIs(t, err, datatypes.ErrStatusConflict)

	// Row left untouched by the failed CAS.
	got, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStarting, got.Status)

	_, err = s.SetStatusFrom("missing", datatypes.StatusStopped, datatypes.StatusStarting)
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestSetStatusFromSingleWinner(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutApp(&datatypes.App{ID: "gitea", Status: datatypes.StatusStopped}))

	const racers = 8
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SetStatusFrom("gitea", datatypes.StatusStopped, datatypes.StatusStarting); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins, "exactly one racer claims the transition")
}

func TestSetStatus(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutApp(&datatypes.App{ID: "gitea", Status: datatypes.StatusUpdating}))

	app, err := s.SetStatus("gitea", datatypes.StatusStopped)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)

	_, err = s.SetStatus("missing", datatypes.StatusStopped)
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestTouchApp(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutApp(&datatypes.App{ID: "gitea", Status: datatypes.StatusRunning}))

	app, err := s.TouchApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, 1, app.NumOpened)
	assert.False(t, app.LastOpened.IsZero())

	app, err = s.TouchApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, 2, app.NumOpened)

	_, err = s.TouchApp("missing")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestBackupRows(t *testing.T) {
	s := testStore(t)

	b := &datatypes.Backup{
		ID:       "b-1",
		AppID:    "gitea",
		Filename: "gitea-20260830.tar.gz",
		Version:  3,
		Size:     1024,
	}
	require.NoError(t, s.PutBackup(b))
	assert.False(t, b.CreatedAt.IsZero())

	// Rows are immutable, a duplicate insert fails.
	assert.Error(t, s.PutBackup(&datatypes.Backup{ID: "b-1", AppID: "gitea"}))

	got, err := s.GetBackup("gitea", "b-1")
	require.NoError(t, err)
	assert.Equal(t, "gitea-20260830.tar.gz", got.Filename)

	require.NoError(t, s.DeleteBackup("gitea", "b-1"))
	_, err = s.GetBackup("gitea", "b-1")
	assert.ErrorIs(t, err, datatypes.ErrBackupNotFound)
	assert.ErrorIs(t, s.DeleteBackup("gitea", "b-1"), datatypes.ErrBackupNotFound)
}

func TestListBackupsPagedNewestFirst(t *testing.T) {
	s := testStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutBackup(&datatypes.Backup{
			ID:        fmt.Sprintf("b-%d", i),
			AppID:     "gitea",
			Filename:  fmt.Sprintf("gitea-%d.tar.gz", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	// A second app's rows never leak into gitea's listing.
	require.NoError(t, s.PutBackup(&datatypes.Backup{ID: "x-1", AppID: "nextcloud"}))

	page, err := s.ListBackups("gitea", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.PageCount)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "b-4", page.Data[0].ID)
	assert.Equal(t, "b-3", page.Data[1].ID)

	last, err := s.ListBackups("gitea", 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Data, 1)
	assert.Equal(t, "b-0", last.Data[0].ID)

	beyond, err := s.ListBackups("gitea", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Data)
	assert.Equal(t, 5, beyond.Total)
}

func TestListBackupsEmpty(t *testing.T) {
	s := testStore(t)

	page, err := s.ListBackups("gitea", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 1, page.PageCount)
	assert.Empty(t, page.Data)
}

func TestDeleteAppBackups(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.PutBackup(&datatypes.Backup{ID: fmt.Sprintf("b-%d", i), AppID: "gitea"}))
	}
	require.NoError(t, s.PutBackup(&datatypes.Backup{ID: "keep", AppID: "nextcloud"}))

	require.NoError(t, s.DeleteAppBackups("gitea"))

	page, err := s.ListBackups("gitea", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	other, err := s.ListBackups("nextcloud", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Total)
}
