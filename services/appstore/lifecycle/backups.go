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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/dispatcher"
	"github.com/AleutianAI/appdock/services/appstore/runner"
)

// allBackupsPageSize is large enough to fetch every backup row for an
// app in one page; retention keeps real counts far below this.
const allBackupsPageSize = 1 << 16

// CreateBackup archives an app's data directory.
//
// The app's status is parked in `backing_up` for the duration. On
// success it is restored to whatever it was before, running apps
// resume automatically. On failure the app lands `stopped`: the worker
// stops the stack before archiving and never reaches the resume step,
// so stopped is what is actually true. Exactly one backup row is
// written, and only on success.
func (f *Facade) CreateBackup(ctx context.Context, appID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.CreateBackup")
	defer span.End()
	defer f.observe(ctx, "backup", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	prior := app.Status
	if prior.Transitional() {
		return datatypes.ErrOperationInProgress
	}

	if _, err := f.store.SetStatusFrom(appID, prior, datatypes.StatusBackingUp); err != nil {
		return err
	}

	var args []string
	if prior == datatypes.StatusRunning {
		args = append(args, runner.ArgResume)
	}
	event := datatypes.NewAppEvent(datatypes.CommandBackup, appID, nil, args...)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Backup)

	if err != nil || !result.Success {
		if _, setErr := f.store.SetStatus(appID, datatypes.StatusStopped); setErr != nil {
			f.logger.Error("failed to settle app after backup failure", "app_id", appID, "error", setErr)
		}
		if err != nil {
			return err
		}
		return datatypes.NewExecutionError(datatypes.CommandBackup, appID, result.Stdout)
	}

	if _, setErr := f.store.SetStatus(appID, prior); setErr != nil {
		f.logger.Error("failed to settle app after backup", "app_id", appID, "error", setErr)
	}

	var outcome runner.BackupOutcome
	if err := json.Unmarshal([]byte(result.Stdout), &outcome); err != nil {
		return fmt.Errorf("parsing backup outcome: %w", err)
	}

	backup := &datatypes.Backup{
		ID:       uuid.NewString(),
		AppID:    appID,
		Filename: outcome.Filename,
		Version:  app.Version,
		Size:     outcome.Size,
	}
	if err := f.store.PutBackup(backup); err != nil {
		return err
	}
	if f.metrics != nil {
		f.metrics.BackupBytes.Record(ctx, outcome.Size)
	}
	return nil
}

// RestoreBackup replaces an app's data directory with an archived
// snapshot.
//
// The app always lands in `stopped`: restored data may belong to an
// older version and starting blindly could corrupt it. The recorded
// version reverts to the backup's version on success.
func (f *Facade) RestoreBackup(ctx context.Context, appID, backupID string) (retErr error) {
	ctx, span := f.tracer.Start(ctx, "lifecycle.RestoreBackup")
	defer span.End()
	defer f.observe(ctx, "restore", time.Now())(&retErr)

	release, err := f.locks.acquire(appID)
	if err != nil {
		return err
	}
	defer release()

	app, err := f.store.GetApp(appID)
	if err != nil {
		return err
	}
	backup, err := f.store.GetBackup(appID, backupID)
	if err != nil {
		return err
	}
	if app.Status.Transitional() {
		return datatypes.ErrOperationInProgress
	}

	if _, err := f.store.SetStatusFrom(appID, app.Status, datatypes.StatusRestoring); err != nil {
		return err
	}

	event := datatypes.NewAppEvent(datatypes.CommandRestore, appID, nil, backup.Filename)
	result, err := f.dispatcher.DispatchAndWait(ctx, dispatcher.QueueApps, &event, f.timeouts.Restore)

	if err == nil && result.Success {
		restored, getErr := f.store.GetApp(appID)
		if getErr != nil {
			return getErr
		}
		restored.Status = datatypes.StatusStopped
		restored.Version = backup.Version
		return f.store.PutApp(restored)
	}

	if _, setErr := f.store.SetStatus(appID, datatypes.StatusStopped); setErr != nil {
		f.logger.Error("failed to settle app after restore failure", "app_id", appID, "error", setErr)
	}
	if err != nil {
		return err
	}
	return datatypes.NewExecutionError(datatypes.CommandRestore, appID, result.Stdout)
}

// ListBackups returns one page of an app's backups, newest first.
func (f *Facade) ListBackups(appID string, page, pageSize int) (*datatypes.BackupPage, error) {
	return f.store.ListBackups(appID, page, pageSize)
}

// DeleteBackup removes a backup row and its archive file.
func (f *Facade) DeleteBackup(ctx context.Context, appID, backupID string) error {
	_, span := f.tracer.Start(ctx, "lifecycle.DeleteBackup")
	defer span.End()

	backup, err := f.store.GetBackup(appID, backupID)
	if err != nil {
		return err
	}
	if err := f.store.DeleteBackup(appID, backupID); err != nil {
		return err
	}
	if f.archives != nil {
		if err := f.archives.DeleteBackupArchive(appID, backup.Filename); err != nil {
			return err
		}
	}
	return nil
}

// PruneBackups enforces a retention limit, deleting the oldest rows
// and archives beyond keep. keep < 1 means unlimited.
func (f *Facade) PruneBackups(ctx context.Context, appID string, keep int) error {
	if keep < 1 {
		return nil
	}
	page, err := f.store.ListBackups(appID, 1, allBackupsPageSize)
	if err != nil {
		return err
	}
	for i := keep; i < len(page.Data); i++ {
		if err := f.DeleteBackup(ctx, appID, page.Data[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// deleteAllBackups removes every row and archive for an app.
func (f *Facade) deleteAllBackups(appID string) error {
	page, err := f.store.ListBackups(appID, 1, allBackupsPageSize)
	if err != nil {
		return err
	}
	for _, backup := range page.Data {
		if f.archives != nil {
			if err := f.archives.DeleteBackupArchive(appID, backup.Filename); err != nil {
				return err
			}
		}
	}
	return f.store.DeleteAppBackups(appID)
}
