// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/envgen"
	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// BackupOutcome is the JSON payload a successful backup event carries
// in its result stdout.
type BackupOutcome struct {
	// Filename is the archive name under the app's backup directory.
	Filename string `json:"filename"`

	// Size is the archive size in bytes.
	Size int64 `json:"size"`
}

// Executor performs the disk and compose work behind lifecycle events.
//
// The executor is stateless with respect to app rows; everything it
// needs arrives in the event. Status bookkeeping stays with the
// lifecycle commands that dispatched the event.
type Executor struct {
	paths   layout.Paths
	compose ComposeExecutor
	proc    ProcessManager
	envgen  *envgen.Generator
	logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(paths layout.Paths, compose ComposeExecutor, proc ProcessManager, gen *envgen.Generator, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		paths:   paths,
		compose: compose,
		proc:    proc,
		envgen:  gen,
		logger:  logger,
	}
}

// Install materializes an app from the catalog and starts it.
//
// Steps: copy the catalog bundle to the live apps directory, generate
// the env file, render packaged data templates, pull images, bring the
// stack up.
func (x *Executor) Install(ctx context.Context, appID string, opts envgen.Options) (string, error) {
	src := x.paths.CatalogApp(appID)
	if _, err := os.Stat(filepath.Join(src, layout.ManifestFile)); err != nil {
		return "", fmt.Errorf("%w: %s", datatypes.ErrManifestNotFound, appID)
	}
	if err := copyDir(src, x.paths.InstalledApp(appID)); err != nil {
		return "", fmt.Errorf("copying app bundle: %w", err)
	}

	env, err := x.envgen.Generate(appID, opts)
	if err != nil {
		return "", err
	}
	if err := x.envgen.RenderDataTemplates(appID, env); err != nil {
		return "", err
	}

	if _, err := x.compose.Pull(ctx, appID); err != nil {
		return "", err
	}
	result, err := x.compose.Up(ctx, appID)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Start regenerates the env file and brings the stack up.
func (x *Executor) Start(ctx context.Context, appID string, opts envgen.Options) (string, error) {
	if _, err := x.envgen.Generate(appID, opts); err != nil {
		return "", err
	}
	result, err := x.compose.Up(ctx, appID)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Stop stops the stack's containers.
func (x *Executor) Stop(ctx context.Context, appID string) (string, error) {
	result, err := x.compose.Stop(ctx, appID)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Uninstall tears the stack down with its volumes and removes the
// app's directories. Backup archives are left in place; discarding
// them is a separate decision.
func (x *Executor) Uninstall(ctx context.Context, appID string) (string, error) {
	result, err := x.compose.Down(ctx, appID, true)
	if err != nil {
		// Teardown of a half-installed app is expected to fail when
		// nothing was ever started; keep going if the compose bundle
		// is already gone.
		if _, statErr := os.Stat(filepath.Join(x.paths.InstalledApp(appID), layout.ComposeFile)); statErr == nil {
			return "", err
		}
	}

	if err := os.RemoveAll(x.paths.InstalledApp(appID)); err != nil {
		return "", fmt.Errorf("removing app bundle: %w", err)
	}
	if err := os.RemoveAll(x.paths.AppData(appID)); err != nil {
		return "", fmt.Errorf("removing app data: %w", err)
	}
	if result == nil {
		return "", nil
	}
	return result.Stdout, nil
}

// Update replaces the installed bundle with the current catalog copy
// and pulls the new images. The stack is left stopped; starting again
// is the caller's explicit next step.
func (x *Executor) Update(ctx context.Context, appID string, opts envgen.Options) (string, error) {
	if _, err := x.compose.Down(ctx, appID, false); err != nil {
		return "", err
	}

	src := x.paths.CatalogApp(appID)
	if _, err := os.Stat(filepath.Join(src, layout.ManifestFile)); err != nil {
		return "", fmt.Errorf("%w: %s", datatypes.ErrManifestNotFound, appID)
	}
	if err := os.RemoveAll(x.paths.InstalledApp(appID)); err != nil {
		return "", fmt.Errorf("removing old bundle: %w", err)
	}
	if err := copyDir(src, x.paths.InstalledApp(appID)); err != nil {
		return "", fmt.Errorf("copying new bundle: %w", err)
	}

	if _, err := x.envgen.Generate(appID, opts); err != nil {
		return "", err
	}
	result, err := x.compose.Pull(ctx, appID)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Backup stops the stack, archives the app's data directory, and
// optionally resumes. The returned stdout is a JSON BackupOutcome.
func (x *Executor) Backup(ctx context.Context, appID string, resume bool) (string, error) {
	if _, err := x.compose.Stop(ctx, appID); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s-%s.tar.gz", appID, time.Now().UTC().Format("20060102-150405"))
	archivePath := filepath.Join(x.paths.AppBackups(appID), filename)

	size, err := createArchive(x.paths.AppData(appID), archivePath)
	if err != nil {
		return "", err
	}

	if resume {
		if _, err := x.compose.Up(ctx, appID); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(BackupOutcome{Filename: filename, Size: size})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Restore stops the stack and replaces the data directory with the
// archive's contents. The stack is left stopped.
func (x *Executor) Restore(ctx context.Context, appID, filename string) (string, error) {
	archivePath := filepath.Join(x.paths.AppBackups(appID), filepath.Base(filename))
	if _, err := os.Stat(archivePath); err != nil {
		return "", fmt.Errorf("%w: %s", datatypes.ErrBackupNotFound, filename)
	}

	if _, err := x.compose.Stop(ctx, appID); err != nil {
		return "", err
	}

	dataDir := x.paths.AppData(appID)
	if err := os.RemoveAll(dataDir); err != nil {
		return "", fmt.Errorf("clearing app data: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("recreating app data: %w", err)
	}
	if err := extractArchive(archivePath, dataDir); err != nil {
		return "", err
	}
	return "", nil
}

// DeleteBackupArchive removes one archive file. A missing file is not
// an error; the row is the source of truth and the file may already be
// gone.
func (x *Executor) DeleteBackupArchive(appID, filename string) error {
	path := filepath.Join(x.paths.AppBackups(appID), filepath.Base(filename))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup archive: %w", err)
	}
	return nil
}

// copyDir recursively copies a directory tree.
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyRegularFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyRegularFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
