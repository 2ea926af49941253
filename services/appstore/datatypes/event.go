// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Queue event types.
//
// An Event is a transient unit of work handed to the dispatcher and
// executed by a worker out-of-process from the orchestration decision.
// Events are journaled only until completion; they are never part of the
// persistent data model.
package datatypes

import (
	"github.com/google/uuid"
)

// =============================================================================
// Event Types and Commands
// =============================================================================

// EventType selects the worker queue an event is routed to.
type EventType string

const (
	// EventTypeApp is a user-triggered lifecycle operation.
	EventTypeApp EventType = "app"

	// EventTypeRepo is a catalog repository clone/update.
	EventTypeRepo EventType = "repo"

	// EventTypeSystem is a host-level task such as a system-info snapshot.
	EventTypeSystem EventType = "system"
)

// Commands understood by the app queue worker.
const (
	CommandInstall   = "install"
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandUninstall = "uninstall"
	CommandUpdate    = "update"
	CommandBackup    = "backup"
	CommandRestore   = "restore"
)

// Commands understood by the repo queue worker.
const (
	CommandClone      = "clone"
	CommandRepoUpdate = "update"
)

// Commands understood by the system queue worker.
const (
	CommandSystemInfo = "system_info"
)

// =============================================================================
// Event
// =============================================================================

// Event is one unit of work submitted to the dispatcher.
//
// Correctness of the lifecycle state machine depends on the caller not
// submitting a second app event while the app is in a transitional
// status; the lifecycle facade enforces that with per-app locks and
// compare-and-swap status writes.
type Event struct {
	// ID is the correlation id used to match completions to waits.
	ID string `json:"id"`

	// Type routes the event to a queue.
	Type EventType `json:"type"`

	// Command names the operation for the worker.
	Command string `json:"command"`

	// AppID is set for app events.
	AppID string `json:"app_id,omitempty"`

	// Form carries the resolved user config for install/update events.
	Form map[string]any `json:"form,omitempty"`

	// Args carries extra positional arguments (repo URL, backup
	// filename).
	Args []string `json:"args,omitempty"`
}

// NewAppEvent builds an app-queue event with a fresh correlation id.
func NewAppEvent(command, appID string, form map[string]any, args ...string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    EventTypeApp,
		Command: command,
		AppID:   appID,
		Form:    form,
		Args:    args,
	}
}

// NewRepoEvent builds a repo-queue event with a fresh correlation id.
func NewRepoEvent(command, url string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    EventTypeRepo,
		Command: command,
		Args:    []string{url},
	}
}

// NewSystemEvent builds a system-queue event with a fresh correlation id.
func NewSystemEvent(command string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    EventTypeSystem,
		Command: command,
	}
}

// Result is a worker's completion report for one event.
type Result struct {
	// Success is false when the worker reported a failure.
	Success bool `json:"success"`

	// Stdout is the captured output, kept for diagnostics on failure.
	Stdout string `json:"stdout"`
}
