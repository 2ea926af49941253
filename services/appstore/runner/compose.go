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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeFileMissing is returned when an app has no compose
	// bundle.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrInvalidComposeConfig is returned when ComposeConfig is
	// invalid.
	ErrInvalidComposeConfig = errors.New("invalid compose configuration")
)

// =============================================================================
// Interface Definition
// =============================================================================

// ComposeExecutor manages docker compose operations for installed apps.
//
// # Description
//
// Abstracts all compose invocations so lifecycle operations can be
// tested without a container runtime. Each app runs as its own compose
// project, named after the app, with the generated env file injected
// via --env-file.
//
// # Security
//
//   - App ids are validated upstream; they are the only dynamic part
//     of the command line
//   - Env values travel through the env file, never through argv
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across different
// apps. Per-app serialization is provided by the lifecycle facade.
type ComposeExecutor interface {
	// Up starts an app's services (`up -d`). Idempotent: running
	// services are reconciled, not duplicated.
	Up(ctx context.Context, appID string) (*ComposeResult, error)

	// Down stops and removes an app's containers and networks.
	// removeVolumes additionally deletes named volumes.
	Down(ctx context.Context, appID string, removeVolumes bool) (*ComposeResult, error)

	// Stop stops an app's containers without removing them.
	Stop(ctx context.Context, appID string) (*ComposeResult, error)

	// Pull fetches the images referenced by an app's compose bundle.
	Pull(ctx context.Context, appID string) (*ComposeResult, error)
}

// =============================================================================
// Result and Configuration Types
// =============================================================================

// ComposeResult captures one compose invocation.
type ComposeResult struct {
	// Success is true when the command exited zero.
	Success bool

	// ExitCode is the process exit code.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is the wall-clock execution time.
	Duration time.Duration

	// Command is the rendered command line, for logging.
	Command string
}

// ComposeConfig configures the executor.
type ComposeConfig struct {
	// Binary is the compose entrypoint. Default "docker".
	Binary string

	// ProjectPrefix namespaces compose projects. Default "appdock-".
	ProjectPrefix string

	// DefaultTimeout bounds each compose invocation. Default 5
	// minutes.
	DefaultTimeout time.Duration
}

func applyComposeConfigDefaults(cfg *ComposeConfig) {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.ProjectPrefix == "" {
		cfg.ProjectPrefix = "appdock-"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultComposeExecutor implements ComposeExecutor using the docker
// CLI's compose plugin.
type DefaultComposeExecutor struct {
	config ComposeConfig
	paths  layout.Paths
	proc   ProcessManager
	logger *slog.Logger
}

var _ ComposeExecutor = (*DefaultComposeExecutor)(nil)

// NewDefaultComposeExecutor creates an executor over the on-disk
// layout.
func NewDefaultComposeExecutor(cfg ComposeConfig, paths layout.Paths, proc ProcessManager, logger *slog.Logger) (*DefaultComposeExecutor, error) {
	if proc == nil {
		return nil, fmt.Errorf("%w: process manager is required", ErrInvalidComposeConfig)
	}
	applyComposeConfigDefaults(&cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultComposeExecutor{
		config: cfg,
		paths:  paths,
		proc:   proc,
		logger: logger,
	}, nil
}

// Up implements ComposeExecutor.
func (e *DefaultComposeExecutor) Up(ctx context.Context, appID string) (*ComposeResult, error) {
	args, err := e.baseArgs(appID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, appID, append(args, "up", "-d"))
}

// Down implements ComposeExecutor.
func (e *DefaultComposeExecutor) Down(ctx context.Context, appID string, removeVolumes bool) (*ComposeResult, error) {
	args, err := e.baseArgs(appID)
	if err != nil {
		return nil, err
	}
	args = append(args, "down", "--remove-orphans")
	if removeVolumes {
		args = append(args, "--volumes")
	}
	return e.run(ctx, appID, args)
}

// Stop implements ComposeExecutor.
func (e *DefaultComposeExecutor) Stop(ctx context.Context, appID string) (*ComposeResult, error) {
	args, err := e.baseArgs(appID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, appID, append(args, "stop"))
}

// Pull implements ComposeExecutor.
func (e *DefaultComposeExecutor) Pull(ctx context.Context, appID string) (*ComposeResult, error) {
	args, err := e.baseArgs(appID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, appID, append(args, "pull"))
}

// baseArgs builds the common compose argument prefix for an app.
func (e *DefaultComposeExecutor) baseArgs(appID string) ([]string, error) {
	composeFile := filepath.Join(e.paths.InstalledApp(appID), layout.ComposeFile)
	if _, err := os.Stat(composeFile); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeFileMissing, composeFile)
	}

	args := []string{
		"compose",
		"--project-name", e.config.ProjectPrefix + appID,
		"-f", composeFile,
	}
	envFile := e.paths.EnvFile(appID)
	if _, err := os.Stat(envFile); err == nil {
		args = append(args, "--env-file", envFile)
	}
	return args, nil
}

// run executes one compose command with the default timeout.
func (e *DefaultComposeExecutor) run(ctx context.Context, appID string, args []string) (*ComposeResult, error) {
	start := time.Now()
	cmdStr := e.config.Binary + " " + strings.Join(args, " ")

	e.logger.Debug("running compose command", "app_id", appID, "command", cmdStr)

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.paths.InstalledApp(appID), nil, e.config.Binary, args...)

	result := &ComposeResult{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}
	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose command exited with code %d: %s", exitCode, stderr)
	}
	return result, nil
}
