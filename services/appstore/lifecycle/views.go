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
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
)

// startAllConcurrency bounds how many apps boot in parallel so a large
// install base doesn't thundering-herd the container runtime.
const startAllConcurrency = 4

// GetApp merges the persisted row with the catalog manifest.
//
// An app with no row is reported with StatusMissing and
// manifest-derived defaults rather than an error, so clients can show
// catalog entries and installed apps uniformly.
func (f *Facade) GetApp(appID string) (*datatypes.AppView, error) {
	if !datatypes.ValidAppID(appID) {
		return nil, datatypes.NewValidationError("app_id", "malformed app id")
	}

	manifest, manifestErr := f.resolver.Resolve(appID)

	app, err := f.store.GetApp(appID)
	if errors.Is(err, datatypes.ErrAppNotFound) {
		if manifestErr != nil {
			return nil, manifestErr
		}
		return &datatypes.AppView{
			App: datatypes.App{
				ID:     appID,
				Status: datatypes.StatusMissing,
			},
			Manifest: manifest,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	view := &datatypes.AppView{App: *app, Manifest: manifest}
	view.UpdateAvailable = f.updateAvailable(app)
	return view, nil
}

// updateAvailable compares the row against the catalog copy of the
// manifest. The installed copy always matches the installed version,
// so it can never signal an update.
func (f *Facade) updateAvailable(app *datatypes.App) bool {
	catalog, err := f.resolver.ResolveCatalog(app.ID)
	return err == nil && catalog.TipiVersion > app.Version
}

// ListApps returns a view for every persisted app, sorted by ID.
//
// A missing or broken manifest never hides an installed row; the view
// just carries a nil Manifest.
func (f *Facade) ListApps() ([]*datatypes.AppView, error) {
	apps, err := f.store.ListApps()
	if err != nil {
		return nil, err
	}
	views := make([]*datatypes.AppView, 0, len(apps))
	for _, app := range apps {
		view := &datatypes.AppView{App: *app}
		if manifest, err := f.resolver.Resolve(app.ID); err == nil {
			view.Manifest = manifest
		}
		view.UpdateAvailable = f.updateAvailable(app)
		views = append(views, view)
	}
	return views, nil
}

// StartAllApps boots every app that was running when the daemon last
// stopped, after sweeping crash leftovers to a resting state. Called
// once at startup.
//
// Failures are collected, not fatal: one broken app must not keep the
// rest down, so the group deliberately carries no shared cancellation.
func (f *Facade) StartAllApps(ctx context.Context) error {
	apps, err := f.store.ListApps()
	if err != nil {
		return err
	}

	var group errgroup.Group
	group.SetLimit(startAllConcurrency)

	for _, app := range apps {
		appID := app.ID
		switch app.Status {
		case datatypes.StatusRunning, datatypes.StatusStarting:
			// The runtime is cold after a daemon restart: a row saying
			// running or starting reflects the previous process. Settle
			// to stopped so the CAS in Start has a clean starting point.
			if _, err := f.store.SetStatus(appID, datatypes.StatusStopped); err != nil {
				f.logger.Error("failed to reset app before boot", "app_id", appID, "error", err)
				continue
			}
			group.Go(func() error {
				if err := f.Start(ctx, appID); err != nil {
					f.logger.Error("failed to start app at boot", "app_id", appID, "error", err)
					return err
				}
				return nil
			})
		case datatypes.StatusInstalling:
			// The install never completed; same outcome as a failed
			// install.
			f.logger.Warn("removing app row from an interrupted install", "app_id", appID)
			if err := f.store.DeleteApp(appID); err != nil {
				f.logger.Error("failed to remove interrupted install", "app_id", appID, "error", err)
			}
		default:
			if !app.Status.Transitional() {
				continue
			}
			// Any other transitional row is a crash leftover that would
			// wedge the CAS on every later command.
			f.logger.Warn("settling app left in a transitional status",
				"app_id", appID, "status", app.Status)
			if _, err := f.store.SetStatus(appID, datatypes.StatusStopped); err != nil {
				f.logger.Error("failed to settle app at boot", "app_id", appID, "error", err)
			}
		}
	}
	return group.Wait()
}

// TouchApp records a UI open for usage stats.
func (f *Facade) TouchApp(appID string) (*datatypes.App, error) {
	return f.store.TouchApp(appID)
}
