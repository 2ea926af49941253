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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/dispatcher"
	"github.com/AleutianAI/appdock/services/appstore/envgen"
)

// InstallOptions carries the user's install request.
type InstallOptions struct {
	// Config maps form-field env variables to user values.
	Config map[string]any

	// Exposed publishes the app under Domain.
	Exposed bool
	Domain  string

	// OpenPort publishes the app port on the host.
	OpenPort bool

	// ExposedLocal exposes the app on the local network only.
	ExposedLocal bool
}

// Install validates the request, creates the row in `installing`, and
// runs the install event.
//
// A failed install deletes the row again: there is no broken
// half-installed state to manage, the operator just retries.
func (f *Facade) Install(ctx context.Context, appID string, opts InstallOptions) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Install")
	defer span.End()
	defer f.observe(ctx, "install", time.Now())(&retErr)

	if !datatypes.ValidAppID(appID) {
		return datatypes.NewValidationError("app_id", "not a valid app id")
	}

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	manifest, err := f.resolver.CheckRequirements(appID)
	if err != nil {
		return err
	}
	if err := validateConfig(manifest, opts.Config); err != nil {
		return err
	}
	if err := f.validateExposure(manifest, appID, opts.Exposed, opts.Domain); err != nil {
		return err
	}
	if _, err := f.store.GetApp(appID); err == nil {
		return datatypes.NewValidationError("app_id", "already installed")
	} else if !errors.Is(err, datatypes.ErrAppNotFound) {
		return err
	}

	app := &datatypes.App{
		ID:           appID,
		Status:       datatypes.StatusInstalling,
		Config:       opts.Config,
		Exposed:      opts.Exposed,
		Domain:       opts.Domain,
		OpenPort:     opts.OpenPort,
		ExposedLocal: opts.ExposedLocal,
		Version:      manifest.TipiVersion,
	}
	if !opts.Exposed {
		app.Domain = ""
	}
	if err := f.store.PutApp(app); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandInstall, appID, opts.Config,
		exposureArgs(opts.Exposed, opts.Domain)...)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Install)
	if err != nil || !result.Success {
		// Install failure removes the row; the app was never
		// installed.
		if delErr := f.store.DeleteApp(appID); delErr != nil {
			f.logger.Error("failed to roll back install row", "app_id", appID, "error", delErr)
		}
		if err != nil {
			return err
		}
		return datatypes.NewExecutionError(datatypes.CommandInstall, appID, result.Stdout)
	}

	_, err = f.store.SetStatus(appID, datatypes.StatusRunning)
	return err
}

// Start moves a stopped app to running.
//
// Starting an app that is already running succeeds without dispatching
// anything.
func (f *Facade) Start(ctx context.Context, appID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Start")
	defer span.End()
	defer f.observe(ctx, "start", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()
	return f.startLocked(ctx, appID)
}

// startLocked is Start without lock acquisition, for callers that
// already hold the app's lock.
func (f *Facade) startLocked(ctx context.Context, appID string) error {
	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.Status == datatypes.StatusRunning {
		return nil
	}

	if _, err := f.store.SetStatusFrom(appID, datatypes.StatusStopped, datatypes.StatusStarting); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandStart, appID, app.Config,
		exposureArgs(app.Exposed, app.Domain)...)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Start)
	if err != nil || !result.Success {
		if _, setErr := f.store.SetStatus(appID, datatypes.StatusStopped); setErr != nil {
			f.logger.Error("failed to settle app after start failure", "app_id", appID, "error", setErr)
		}
		if err != nil {
			return err
		}
		return datatypes.NewExecutionError(datatypes.CommandStart, appID, result.Stdout)
	}

	_, err = f.store.SetStatus(appID, datatypes.StatusRunning)
	return err
}

// Stop moves a running app to stopped. Stopping a stopped app is a
// no-op.
func (f *Facade) Stop(ctx context.Context, appID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Stop")
	defer span.End()
	defer f.observe(ctx, "stop", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()
	return f.stopLocked(ctx, appID)
}

func (f *Facade) stopLocked(ctx context.Context, appID string) error {
	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.Status == datatypes.StatusStopped {
		return nil
	}

	if _, err := f.store.SetStatusFrom(appID, datatypes.StatusRunning, datatypes.StatusStopping); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandStop, appID, nil)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Stop)
	if err != nil || !result.Success {
		if _, setErr := f.store.SetStatus(appID, datatypes.StatusRunning); setErr != nil {
			f.logger.Error("failed to settle app after stop failure", "app_id", appID, "error", setErr)
		}
		if err != nil {
			return err
		}
		return datatypes.NewExecutionError(datatypes.CommandStop, appID, result.Stdout)
	}

	_, err = f.store.SetStatus(appID, datatypes.StatusStopped)
	return err
}

// Restart stops and starts an app under one lock.
func (f *Facade) Restart(ctx context.Context, appID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Restart")
	defer span.End()
	defer f.observe(ctx, "restart", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	if err := f.stopLocked(ctx, appID); err != nil {
		return err
	}
	return f.startLocked(ctx, appID)
}

// Reset is Restart under its legacy name; some clients still send
// "reset".
func (f *Facade) Reset(ctx context.Context, appID string) error {
	return f.Restart(ctx, appID)
}

// Update replaces the installed version with the current catalog
// version.
//
// The app always lands in `stopped`, success or failure: images may
// have changed under a half-finished update and an automatic start
// would hide that. The recorded version moves only on success.
func (f *Facade) Update(ctx context.Context, appID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Update")
	defer span.End()
	defer f.observe(ctx, "update", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.Status.Transitional() {
		return datatypes.ErrOperationInProgress
	}
	// CheckRequirements reads the catalog copy: the update deploys
	// that copy, and its tipi_version is the one the row records on
	// success.
	manifest, err := f.resolver.CheckRequirements(appID)
	if err != nil {
		return err
	}

	if _, err := f.store.SetStatusFrom(appID, app.Status, datatypes.StatusUpdating); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandUpdate, appID, app.Config,
		exposureArgs(app.Exposed, app.Domain)...)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Update)

	if err == nil && result.Success {
		updated, getErr := f.store.GetApp(appID)
		if getErr != nil {
			return getErr
		}
		updated.Status = datatypes.StatusStopped
		updated.Version = manifest.TipiVersion
		if putErr := f.store.PutApp(updated); putErr != nil {
			return putErr
		}
		return nil
	}

	if _, setErr := f.store.SetStatus(appID, datatypes.StatusStopped); setErr != nil {
		f.logger.Error("failed to settle app after update failure", "app_id", appID, "error", setErr)
	}
	if err != nil {
		return err
	}
	return datatypes.NewExecutionError(datatypes.CommandUpdate, appID, result.Stdout)
}

// UpdateConfig revalidates and persists new user config, regenerating
// the env file in place. A running app picks the new values up on its
// next restart.
func (f *Facade) UpdateConfig(ctx context.Context, appID string, opts InstallOptions) (retErr error) {
	_, span := f.tracer.Start(ctx, "lifecycle.UpdateConfig")
	defer span.End()
	defer f.observe(ctx, "update_config", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.Status.Transitional() {
		return datatypes.ErrOperationInProgress
	}

	manifest, err := f.resolver.Resolve(appID)
	if err != nil {
		return err
	}
	if err := validateConfig(manifest, opts.Config); err != nil {
		return err
	}
	if err := f.validateExposure(manifest, appID, opts.Exposed, opts.Domain); err != nil {
		return err
	}

	if f.envgen != nil {
		if _, err := f.envgen.Generate(appID, envgen.Options{
			Config:  opts.Config,
			Exposed: opts.Exposed,
			Domain:  opts.Domain,
		}); err != nil {
			return err
		}
	}

	app.Config = opts.Config
	app.Exposed = opts.Exposed
	app.Domain = opts.Domain
	app.OpenPort = opts.OpenPort
	app.ExposedLocal = opts.ExposedLocal
	if !opts.Exposed {
		app.Domain = ""
	}
	return f.store.PutApp(app)
}

// Uninstall tears an app down and deletes its row.
//
// A failed uninstall settles the row to `stopped` and keeps it, even
// though some files may already be gone; the operator retries from
// there.
func (f *Facade) Uninstall(ctx context.Context, appID string, removeBackups bool) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.Uninstall")
	defer span.End()
	defer f.observe(ctx, "uninstall", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	if app.Status == datatypes.StatusRunning {
		if err := f.stopLocked(ctx, appID); err != nil {
			return err
		}
		app, err = f.store.GetApp(appID)
		if err != nil {
			return err
		}
	}
	if _, err := f.store.SetStatusFrom(appID, app.Status, datatypes.StatusUninstalling); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandUninstall, appID, nil)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Uninstall)
	if err != nil || !result.Success {
		if _, setErr := f.store.SetStatus(appID, datatypes.StatusStopped); setErr != nil {
			f.logger.Error("failed to settle app after uninstall failure", "app_id", appID, "error", setErr)
		}
		if err != nil {
			return err
		}
		return datatypes.NewExecutionError(datatypes.CommandUninstall, appID, result.Stdout)
	}

	if removeBackups {
		if err := f.deleteAllBackups(appID); err != nil {
			f.logger.Error("failed to remove backups during uninstall", "app_id", appID, "error", err)
		}
	}
	return f.store.DeleteApp(appID)
}

// observe returns a completion callback recording command metrics.
func (f *Facade) observe(ctx context.Context, command string, start time.Time) func(*error) {
	return func(errp *error) {
		if f.metrics == nil {
			return
		}
		outcome := "success"
		if errp != nil && *errp != nil {
			outcome = "failure"
		}
		attrs := metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("outcome", outcome))
		f.metrics.AppOperationsTotal.Add(ctx, 1, attrs)
		f.metrics.AppOperationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
