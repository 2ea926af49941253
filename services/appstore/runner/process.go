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
Package runner executes the real work behind lifecycle events: compose
invocations, catalog repo operations, archive handling, and system
snapshots.

All external process execution goes through the ProcessManager
interface so every operation can be exercised in tests without touching
the host.
*/
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProcessManager handles external process operations.
//
// # Description
//
// Abstracts all interaction with the operating system's process
// management. Direct exec.Command calls are not testable; routing them
// through this interface lets tests capture invocations and simulate
// failures without real processes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
//
// # Context Handling
//
// All methods accept a context.Context; long-running processes must
// respect cancellation.
type ProcessManager interface {
	// Run executes a command synchronously and returns stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - []byte: Captured stdout
	//   - error: Non-nil if the command fails; stderr is folded into
	//     the error message
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a working directory with an
	// optional extra environment, returning stdout, stderr, and the
	// exit code.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" for inherited)
	//   - env: Extra environment entries in KEY=VALUE form, appended
	//     to the inherited environment (nil for none)
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Exit code (-1 when the process never started)
	//   - error: Non-nil for start failures or non-zero exits
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultProcessManager implements ProcessManager using os/exec.
type DefaultProcessManager struct{}

// Compile-time interface check.
var _ ProcessManager = (*DefaultProcessManager)(nil)

// NewDefaultProcessManager creates the production process manager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns stdout.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// RunInDir executes a command in a working directory.
func (pm *DefaultProcessManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		exitCode = -1
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting function fields before use. A nil
// function field panics when the corresponding method is called.
type MockProcessManager struct {
	RunFunc      func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// Calls records every invocation as "name arg1 arg2 ...".
	Calls []string
}

var _ ProcessManager = (*MockProcessManager)(nil)

func (m *MockProcessManager) record(name string, args ...string) {
	m.Calls = append(m.Calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
}

// Run calls RunFunc.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(name, args...)
	return m.RunFunc(ctx, name, args...)
}

// RunInDir calls RunInDirFunc.
func (m *MockProcessManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(name, args...)
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}
