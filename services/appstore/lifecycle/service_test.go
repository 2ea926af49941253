// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/dispatcher"
	"github.com/AleutianAI/appdock/services/appstore/runner"
	"github.com/AleutianAI/appdock/services/appstore/store"
)

// =============================================================================
// Test Doubles
// =============================================================================

// mockDispatcher runs no workers; DispatchAndWait answers inline from
// handler, or succeeds when handler is nil.
type mockDispatcher struct {
	mu      sync.Mutex
	events  []datatypes.Event
	handler func(event *datatypes.Event) (datatypes.Result, error)

	// ctxHandler takes precedence over handler and sees the caller's
	// context, for tests that care about cancellation.
	ctxHandler func(ctx context.Context, event *datatypes.Event) (datatypes.Result, error)

	// block, when non-nil, holds DispatchAndWait open until closed.
	block chan struct{}
}

func (m *mockDispatcher) Dispatch(_ context.Context, _ string, event *datatypes.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockDispatcher) DispatchAndWait(ctx context.Context, _ string, event *datatypes.Event, _ time.Duration) (datatypes.Result, error) {
	m.mu.Lock()
	m.events = append(m.events, *event)
	handler := m.handler
	ctxHandler := m.ctxHandler
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if ctxHandler != nil {
		return ctxHandler(ctx, event)
	}
	if handler != nil {
		return handler(event)
	}
	return datatypes.Result{Success: true}, nil
}

func (m *mockDispatcher) Wait(_ context.Context, _ string, _ time.Duration) (datatypes.Result, error) {
	return datatypes.Result{Success: true}, nil
}

func (m *mockDispatcher) Schedule(_ string, _ func() *datatypes.Event) (cron.EntryID, error) {
	return 0, nil
}

func (m *mockDispatcher) Start() {}

func (m *mockDispatcher) Stop(_ context.Context) error { return nil }

func (m *mockDispatcher) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Command
	}
	return out
}

var _ dispatcher.Dispatcher = (*mockDispatcher)(nil)

// fakeResolver mirrors the two on-disk manifest copies: installed
// wins for Resolve, catalog is what deployments and update checks see.
type fakeResolver struct {
	installed map[string]*datatypes.Manifest
	catalog   map[string]*datatypes.Manifest
}

func (r *fakeResolver) Resolve(appID string) (*datatypes.Manifest, error) {
	if m, ok := r.installed[appID]; ok {
		return m, nil
	}
	return r.ResolveCatalog(appID)
}

func (r *fakeResolver) ResolveCatalog(appID string) (*datatypes.Manifest, error) {
	m, ok := r.catalog[appID]
	if !ok {
		return nil, datatypes.ErrManifestNotFound
	}
	return m, nil
}

func (r *fakeResolver) CheckRequirements(appID string) (*datatypes.Manifest, error) {
	return r.ResolveCatalog(appID)
}

func (r *fakeResolver) List() ([]*datatypes.Manifest, error) {
	out := make([]*datatypes.Manifest, 0, len(r.catalog))
	for _, m := range r.catalog {
		out = append(out, m)
	}
	return out, nil
}

type fakeArchives struct {
	mu      sync.Mutex
	deleted []string
}

func (a *fakeArchives) DeleteBackupArchive(appID, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, appID+"/"+filename)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func plainManifest(id string, tipiVersion int) *datatypes.Manifest {
	return &datatypes.Manifest{
		ID:          id,
		Name:        "Test App",
		Port:        8080,
		TipiVersion: tipiVersion,
		Exposable:   true,
	}
}

func testFacade(t *testing.T, disp dispatcher.Dispatcher, manifests map[string]*datatypes.Manifest) (*Facade, *store.Store, *fakeArchives) {
	t.Helper()
	return testFacadeWith(t, disp, &fakeResolver{catalog: manifests})
}

func testFacadeWith(t *testing.T, disp dispatcher.Dispatcher, resolver *fakeResolver) (*Facade, *store.Store, *fakeArchives) {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	archives := &fakeArchives{}
	f, err := New(Config{
		Store:      s,
		Resolver:   resolver,
		Dispatcher: disp,
		Archives:   archives,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return f, s, archives
}

func seedApp(t *testing.T, s *store.Store, id string, status datatypes.AppStatus, version int) {
	t.Helper()
	require.NoError(t, s.PutApp(&datatypes.App{ID: id, Status: status, Version: version}))
}

// =============================================================================
// Install
// =============================================================================

func TestInstallCreatesRunningRow(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 3),
	})

	err := f.Install(context.Background(), "gitea", InstallOptions{})
	require.NoError(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)
	assert.Equal(t, 3, app.Version)
	assert.Equal(t, []string{"install"}, disp.commands())
}

func TestInstallFailureDeletesRow(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "image pull failed"}, nil
	}}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})

	err := f.Install(context.Background(), "gitea", InstallOptions{})
	require.Error(t, err)
	assert.True(t, datatypes.IsExecution(err))

	_, err = s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestInstallRejectsDuplicate(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	err := f.Install(context.Background(), "gitea", InstallOptions{})
	assert.True(t, datatypes.IsValidation(err))
	assert.Empty(t, disp.commands())
}

func TestInstallRejectsMalformedID(t *testing.T) {
	disp := &mockDispatcher{}
	f, _, _ := testFacade(t, disp, nil)

	err := f.Install(context.Background(), "Not An ID", InstallOptions{})
	assert.True(t, datatypes.IsValidation(err))
}

func TestInstallRequiredConfigMissing(t *testing.T) {
	manifest := plainManifest("gitea", 1)
	manifest.FormFields = []datatypes.FormField{
		{EnvVariable: "ADMIN_EMAIL", Type: datatypes.FieldTypeEmail, Required: true},
	}
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{"gitea": manifest})

	err := f.Install(context.Background(), "gitea", InstallOptions{})
	assert.True(t, datatypes.IsValidation(err))
	assert.Empty(t, disp.commands())

	_, err = s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestInstallExposureRules(t *testing.T) {
	unexposable := plainManifest("plain", 1)
	unexposable.Exposable = false
	forced := plainManifest("proxy", 1)
	forced.ForceExpose = true

	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"plain": unexposable,
		"proxy": forced,
		"gitea": plainManifest("gitea", 1),
		"other": plainManifest("other", 1),
	})

	err := f.Install(context.Background(), "plain", InstallOptions{Exposed: true, Domain: "plain.example.com"})
	assert.True(t, datatypes.IsValidation(err), "unexposable app must reject exposure")

	err = f.Install(context.Background(), "proxy", InstallOptions{})
	assert.True(t, datatypes.IsValidation(err), "force-expose app must require exposure")

	err = f.Install(context.Background(), "gitea", InstallOptions{Exposed: true, Domain: "not a domain"})
	assert.True(t, datatypes.IsValidation(err))

	require.NoError(t, f.Install(context.Background(), "gitea", InstallOptions{Exposed: true, Domain: "apps.example.com"}))
	err = f.Install(context.Background(), "other", InstallOptions{Exposed: true, Domain: "apps.example.com"})
	assert.True(t, datatypes.IsValidation(err), "domains must be unique among exposed apps")

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.True(t, app.Exposed)
	assert.Equal(t, "apps.example.com", app.Domain)
}

func TestInstallPersistsPortFlags(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})

	err := f.Install(context.Background(), "gitea", InstallOptions{
		OpenPort:     true,
		ExposedLocal: true,
	})
	require.NoError(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.True(t, app.OpenPort)
	assert.True(t, app.ExposedLocal)

	require.NoError(t, f.UpdateConfig(context.Background(), "gitea", InstallOptions{}))
	app, err = s.GetApp("gitea")
	require.NoError(t, err)
	assert.False(t, app.OpenPort, "config update must be able to close the port again")
	assert.False(t, app.ExposedLocal)
}

// =============================================================================
// Start / Stop / Restart
// =============================================================================

func TestStartStopRoundTrip(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	require.NoError(t, f.Start(context.Background(), "gitea"))
	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)

	require.NoError(t, f.Stop(context.Background(), "gitea"))
	app, err = s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)

	assert.Equal(t, []string{"start", "stop"}, disp.commands())
}

func TestStartRunningAppIsNoop(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	require.NoError(t, f.Start(context.Background(), "gitea"))
	assert.Empty(t, disp.commands())
}

func TestStartFailureSettlesStopped(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "compose up failed"}, nil
	}}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	err := f.Start(context.Background(), "gitea")
	require.Error(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
}

func TestStopFailureSettlesRunning(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "compose stop failed"}, nil
	}}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	err := f.Stop(context.Background(), "gitea")
	require.Error(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)
}

func TestRestartRunsStopThenStart(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	require.NoError(t, f.Restart(context.Background(), "gitea"))
	assert.Equal(t, []string{"stop", "start"}, disp.commands())

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)
}

func TestConcurrentCommandRejected(t *testing.T) {
	block := make(chan struct{})
	disp := &mockDispatcher{block: block}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	started := make(chan error, 1)
	go func() {
		started <- f.Start(context.Background(), "gitea")
	}()

	// Wait until the first command holds the lock and is blocked in
	// the dispatcher.
	require.Eventually(t, func() bool {
		return len(disp.commands()) == 1
	}, time.Second, 5*time.Millisecond)

	err := f.Stop(context.Background(), "gitea")
	assert.ErrorIs(t, err, datatypes.ErrOperationInProgress)

	close(block)
	require.NoError(t, <-started)
}

// =============================================================================
// Update
// =============================================================================

func TestUpdateLandsStoppedWithNewVersion(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 5),
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 2)

	require.NoError(t, f.Update(context.Background(), "gitea"))

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
	assert.Equal(t, 5, app.Version)
}

func TestUpdateFailureLandsStoppedOldVersion(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "pull failed"}, nil
	}}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 5),
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 2)

	err := f.Update(context.Background(), "gitea")
	require.Error(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
	assert.Equal(t, 2, app.Version)
}

func TestUpdateRejectsTransitionalStatus(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 5),
	})
	seedApp(t, s, "gitea", datatypes.StatusBackingUp, 2)

	err := f.Update(context.Background(), "gitea")
	assert.ErrorIs(t, err, datatypes.ErrOperationInProgress)
	assert.Empty(t, disp.commands())

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusBackingUp, app.Status, "a rejected update must not touch the row")
}

func TestUpdateBumpsToCatalogVersion(t *testing.T) {
	// The installed copy of the manifest always carries the version the
	// app was installed with; the catalog copy is the one that moves.
	disp := &mockDispatcher{}
	f, s, _ := testFacadeWith(t, disp, &fakeResolver{
		installed: map[string]*datatypes.Manifest{"gitea": plainManifest("gitea", 1)},
		catalog:   map[string]*datatypes.Manifest{"gitea": plainManifest("gitea", 2)},
	})
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	require.NoError(t, f.Update(context.Background(), "gitea"))

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, 2, app.Version)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
}

// =============================================================================
// UpdateConfig
// =============================================================================

func TestUpdateConfigPersists(t *testing.T) {
	manifest := plainManifest("gitea", 1)
	manifest.FormFields = []datatypes.FormField{
		{EnvVariable: "GITEA_THEME", Type: datatypes.FieldTypeText},
	}
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{"gitea": manifest})
	require.NoError(t, s.PutApp(&datatypes.App{
		ID:      "gitea",
		Status:  datatypes.StatusRunning,
		Exposed: true,
		Domain:  "git.example.com",
		Version: 1,
	}))

	err := f.UpdateConfig(context.Background(), "gitea", InstallOptions{
		Config: map[string]any{"GITEA_THEME": "dark"},
	})
	require.NoError(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, "dark", app.Config["GITEA_THEME"])
	assert.False(t, app.Exposed)
	assert.Empty(t, app.Domain, "clearing exposure must clear the domain")
	assert.Equal(t, datatypes.StatusRunning, app.Status, "config changes never touch the status")
	assert.Empty(t, disp.commands())
}

func TestUpdateConfigRejectsTransitionalStatus(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})
	seedApp(t, s, "gitea", datatypes.StatusUpdating, 1)

	err := f.UpdateConfig(context.Background(), "gitea", InstallOptions{})
	assert.ErrorIs(t, err, datatypes.ErrOperationInProgress)
}

// =============================================================================
// Uninstall
// =============================================================================

func TestUninstallDeletesRow(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	require.NoError(t, f.Uninstall(context.Background(), "gitea", false))

	_, err := s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
	assert.Equal(t, []string{"stop", "uninstall"}, disp.commands())
}

func TestUninstallFailureSettlesStoppedAndKeepsRow(t *testing.T) {
	disp := &mockDispatcher{handler: func(event *datatypes.Event) (datatypes.Result, error) {
		if event.Command == datatypes.CommandUninstall {
			return datatypes.Result{Success: false, Stdout: "volume busy"}, nil
		}
		return datatypes.Result{Success: true}, nil
	}}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	err := f.Uninstall(context.Background(), "gitea", false)
	require.Error(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status,
		"a failed uninstall must not rest in a transitional status")

	// Retrying from stopped succeeds.
	disp.mu.Lock()
	disp.handler = nil
	disp.mu.Unlock()
	require.NoError(t, f.Uninstall(context.Background(), "gitea", false))
	_, err = s.GetApp("gitea")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound)
}

func TestUninstallRemovesBackups(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, archives := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)
	require.NoError(t, s.PutBackup(&datatypes.Backup{
		ID: "b1", AppID: "gitea", Filename: "gitea-20260101-000000.tar.gz", Version: 1,
	}))

	require.NoError(t, f.Uninstall(context.Background(), "gitea", true))

	page, err := s.ListBackups("gitea", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, []string{"gitea/gitea-20260101-000000.tar.gz"}, archives.deleted)
}

// =============================================================================
// Backup / Restore
// =============================================================================

func backupResult(t *testing.T, filename string, size int64) datatypes.Result {
	t.Helper()
	raw, err := json.Marshal(runner.BackupOutcome{Filename: filename, Size: size})
	require.NoError(t, err)
	return datatypes.Result{Success: true, Stdout: string(raw)}
}

func TestBackupRestoresPriorRunningStatus(t *testing.T) {
	disp := &mockDispatcher{}
	disp.handler = func(event *datatypes.Event) (datatypes.Result, error) {
		if event.Command == datatypes.CommandBackup {
			return backupResult(t, "gitea-20260830-120000.tar.gz", 4096), nil
		}
		return datatypes.Result{Success: true}, nil
	}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 3)

	require.NoError(t, f.CreateBackup(context.Background(), "gitea"))

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)

	require.Len(t, disp.events, 1)
	assert.Contains(t, disp.events[0].Args, runner.ArgResume,
		"a running app asks the worker to bring the stack back up")

	page, err := s.ListBackups("gitea", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "gitea-20260830-120000.tar.gz", page.Data[0].Filename)
	assert.Equal(t, int64(4096), page.Data[0].Size)
	assert.Equal(t, 3, page.Data[0].Version)
}

func TestBackupStoppedAppStaysStopped(t *testing.T) {
	disp := &mockDispatcher{}
	disp.handler = func(_ *datatypes.Event) (datatypes.Result, error) {
		return backupResult(t, "gitea-20260830-120000.tar.gz", 1024), nil
	}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	require.NoError(t, f.CreateBackup(context.Background(), "gitea"))

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)

	require.Len(t, disp.events, 1)
	assert.NotContains(t, disp.events[0].Args, runner.ArgResume)
}

func TestBackupFailureLandsStoppedWithNoRow(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "disk full"}, nil
	}}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	err := f.CreateBackup(context.Background(), "gitea")
	require.Error(t, err)

	// The worker stops the stack before archiving, so stopped is the
	// truthful resting state after a failure.
	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)

	page, err := s.ListBackups("gitea", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestRestoreLandsStoppedAndRevertsVersion(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 5)
	require.NoError(t, s.PutBackup(&datatypes.Backup{
		ID: "b1", AppID: "gitea", Filename: "gitea-20260101-000000.tar.gz", Version: 2,
	}))

	require.NoError(t, f.RestoreBackup(context.Background(), "gitea", "b1"))

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
	assert.Equal(t, 2, app.Version)

	require.Len(t, disp.events, 1)
	assert.Equal(t, datatypes.CommandRestore, disp.events[0].Command)
	assert.Equal(t, []string{"gitea-20260101-000000.tar.gz"}, disp.events[0].Args)
}

func TestRestoreFailureStillLandsStopped(t *testing.T) {
	disp := &mockDispatcher{handler: func(_ *datatypes.Event) (datatypes.Result, error) {
		return datatypes.Result{Success: false, Stdout: "corrupt archive"}, nil
	}}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 5)
	require.NoError(t, s.PutBackup(&datatypes.Backup{
		ID: "b1", AppID: "gitea", Filename: "gitea-20260101-000000.tar.gz", Version: 2,
	}))

	err := f.RestoreBackup(context.Background(), "gitea", "b1")
	require.Error(t, err)

	app, err := s.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
	assert.Equal(t, 5, app.Version, "version moves only on success")
}

func TestRestoreUnknownBackup(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusStopped, 1)

	err := f.RestoreBackup(context.Background(), "gitea", "nope")
	assert.ErrorIs(t, err, datatypes.ErrBackupNotFound)
	assert.Empty(t, disp.commands())
}

func TestDeleteBackupRemovesRowAndArchive(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, archives := testFacade(t, disp, nil)
	require.NoError(t, s.PutBackup(&datatypes.Backup{
		ID: "b1", AppID: "gitea", Filename: "gitea-20260101-000000.tar.gz", Version: 1,
	}))

	require.NoError(t, f.DeleteBackup(context.Background(), "gitea", "b1"))

	_, err := s.GetBackup("gitea", "b1")
	assert.ErrorIs(t, err, datatypes.ErrBackupNotFound)
	assert.Equal(t, []string{"gitea/gitea-20260101-000000.tar.gz"}, archives.deleted)
}

// =============================================================================
// Views
// =============================================================================

func TestGetAppMissingRowUsesManifestDefaults(t *testing.T) {
	disp := &mockDispatcher{}
	f, _, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})

	view, err := f.GetApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusMissing, view.Status)
	require.NotNil(t, view.Manifest)
	assert.Equal(t, "gitea", view.Manifest.ID)

	_, err = f.GetApp("unknown")
	assert.ErrorIs(t, err, datatypes.ErrManifestNotFound)
}

func TestGetAppReportsUpdateAvailable(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 4),
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 2)

	view, err := f.GetApp("gitea")
	require.NoError(t, err)
	assert.True(t, view.UpdateAvailable)
	assert.Equal(t, datatypes.StatusRunning, view.Status)
}

func TestUpdateAvailableComparesCatalogNotInstalledCopy(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacadeWith(t, disp, &fakeResolver{
		installed: map[string]*datatypes.Manifest{"gitea": plainManifest("gitea", 1)},
		catalog:   map[string]*datatypes.Manifest{"gitea": plainManifest("gitea", 2)},
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	view, err := f.GetApp("gitea")
	require.NoError(t, err)
	assert.True(t, view.UpdateAvailable,
		"the installed manifest always matches the row version; only the catalog copy can signal an update")
	require.NotNil(t, view.Manifest)
	assert.Equal(t, 1, view.Manifest.TipiVersion, "the view keeps showing the install-time manifest")

	views, err := f.ListApps()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].UpdateAvailable)
}

func TestListAppsToleratesMissingManifest(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, map[string]*datatypes.Manifest{
		"gitea": plainManifest("gitea", 1),
	})
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)
	seedApp(t, s, "orphan", datatypes.StatusStopped, 1)

	views, err := f.ListApps()
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.NotNil(t, views[0].Manifest)
	assert.Nil(t, views[1].Manifest, "a row without a catalog entry still lists")
}

func TestStartAllAppsBootsPreviouslyRunning(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "alpha", datatypes.StatusRunning, 1)
	seedApp(t, s, "beta", datatypes.StatusStopped, 1)
	seedApp(t, s, "gamma", datatypes.StatusStarting, 1)

	require.NoError(t, f.StartAllApps(context.Background()))

	for _, id := range []string{"alpha", "gamma"} {
		app, err := s.GetApp(id)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusRunning, app.Status, id)
	}
	app, err := s.GetApp("beta")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
	assert.Len(t, disp.commands(), 2)
}

func TestStartAllAppsOneFailureDoesNotAbortOthers(t *testing.T) {
	// The slow app waits on the caller's context before succeeding; a
	// shared cancellation from the failing app would surface here as a
	// context error and a stopped row.
	disp := &mockDispatcher{}
	disp.ctxHandler = func(ctx context.Context, event *datatypes.Event) (datatypes.Result, error) {
		if event.AppID == "alpha" {
			return datatypes.Result{Success: false, Stdout: "compose up failed"}, nil
		}
		select {
		case <-ctx.Done():
			return datatypes.Result{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return datatypes.Result{Success: true}, nil
		}
	}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "alpha", datatypes.StatusRunning, 1)
	seedApp(t, s, "bravo", datatypes.StatusRunning, 1)

	err := f.StartAllApps(context.Background())
	require.Error(t, err, "the failure is still reported")

	app, err := s.GetApp("bravo")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, app.Status)

	app, err = s.GetApp("alpha")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusStopped, app.Status)
}

func TestStartAllAppsSweepsStaleTransitionalRows(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "stuck-update", datatypes.StatusUpdating, 1)
	seedApp(t, s, "stuck-backup", datatypes.StatusBackingUp, 1)
	seedApp(t, s, "half-install", datatypes.StatusInstalling, 1)

	require.NoError(t, f.StartAllApps(context.Background()))

	for _, id := range []string{"stuck-update", "stuck-backup"} {
		app, err := s.GetApp(id)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusStopped, app.Status, id)
	}
	_, err := s.GetApp("half-install")
	assert.ErrorIs(t, err, datatypes.ErrAppNotFound,
		"an interrupted install is rolled back like a failed one")
	assert.Empty(t, disp.commands(), "sweeping never dispatches container work")
}

func TestTouchAppCountsOpens(t *testing.T) {
	disp := &mockDispatcher{}
	f, s, _ := testFacade(t, disp, nil)
	seedApp(t, s, "gitea", datatypes.StatusRunning, 1)

	_, err := f.TouchApp("gitea")
	require.NoError(t, err)
	app, err := f.TouchApp("gitea")
	require.NoError(t, err)
	assert.Equal(t, 2, app.NumOpened)
	assert.False(t, app.LastOpened.IsZero())
}
