// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Error taxonomy for the app store engine.
//
// Four classes of failure cross the facade boundary:
//
//   - NotFound (app or manifest absent when required)
//   - Validation (rejected before any row mutation)
//   - Execution (a dispatched command reported failure)
//   - Timeout (a wait on the queue exceeded its window)
//
// Validation and NotFound errors are raised synchronously before any
// persistent write, so no cleanup is ever needed for them. Execution and
// Timeout errors are only possible after a transitional status write;
// the owning command resolves the row to a defined terminal status
// before re-raising them.
package datatypes

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrAppNotFound is returned when an operation requires an
	// installed app and no row exists.
	ErrAppNotFound = errors.New("app not found")

	// ErrManifestNotFound is returned when neither the installed copy
	// nor the catalog copy of a manifest exists.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrManifestInvalid wraps schema failures while parsing a
	// manifest. Listing operations treat it as absence.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrBackupNotFound is returned when a referenced backup row or
	// archive file does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrDispatchTimeout is returned when a wait on event completion
	// exceeded its window. The underlying operation is not cancelled.
	ErrDispatchTimeout = errors.New("dispatch timed out")

	// ErrOperationInProgress is returned when a second command targets
	// an app that is already in a transitional status.
	ErrOperationInProgress = errors.New("another operation is in progress for this app")

	// ErrStatusConflict is returned by conditional status updates when
	// the row was not in the expected source status.
	ErrStatusConflict = errors.New("app status changed concurrently")
)

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError reports a rejected request before any mutation.
type ValidationError struct {
	// Field names the offending input when one can be singled out.
	Field string

	// Reason is a human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field with reason.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// =============================================================================
// Execution Errors
// =============================================================================

// ExecutionError reports a dispatched command that the worker executed
// and that failed. Output is kept for diagnostics.
type ExecutionError struct {
	// Command is the event command that failed.
	Command string

	// AppID is the target app, empty for repo/system events.
	AppID string

	// Output is the captured worker output.
	Output string
}

// Error implements the error interface. Output is truncated so error
// strings stay log-friendly; use the struct field for the full capture.
func (e *ExecutionError) Error() string {
	out := e.Output
	if len(out) > 200 {
		out = out[:200] + "..."
	}
	if e.AppID == "" {
		return fmt.Sprintf("command %q failed: %s", e.Command, out)
	}
	return fmt.Sprintf("command %q failed for app %q: %s", e.Command, e.AppID, out)
}

// NewExecutionError builds an ExecutionError carrying captured output.
func NewExecutionError(command, appID, output string) *ExecutionError {
	return &ExecutionError{Command: command, AppID: appID, Output: output}
}

// IsExecution reports whether err is (or wraps) an ExecutionError.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
