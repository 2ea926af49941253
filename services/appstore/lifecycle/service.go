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
Package lifecycle implements the app state machine.

Every command follows the same shape: claim the app's lock, move the
row into a transitional status with a compare-and-swap write, dispatch
the event that does the real work, wait for its result under a
mandatory timeout, and settle the row into its terminal status. The
lock rejects concurrent commands for the same app up front; the CAS
write closes the window between reading a status and claiming it.

Transitional statuses (installing, starting, ...) are never rest
states: every command path ends by settling the row into running or
stopped, or deleting it. StartAllApps sweeps any crash leftovers at
boot.
*/
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/appdock/services/appstore/catalog"
	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/dispatcher"
	"github.com/AleutianAI/appdock/services/appstore/envgen"
	"github.com/AleutianAI/appdock/services/appstore/runner"
	"github.com/AleutianAI/appdock/services/appstore/store"
	"github.com/AleutianAI/appdock/services/appstore/telemetry"
)

// ArchiveStore removes backup archive files. Satisfied by
// runner.Executor.
type ArchiveStore interface {
	DeleteBackupArchive(appID, filename string) error
}

// Timeouts bounds the wait on each dispatched operation. Every field
// must be positive; there is no unbounded wait on a worker.
type Timeouts struct {
	Install   time.Duration
	Start     time.Duration
	Stop      time.Duration
	Update    time.Duration
	Uninstall time.Duration
	Backup    time.Duration
	Restore   time.Duration
}

// DefaultTimeouts returns production defaults. Install and update are
// generous because they pull images.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Install:   15 * time.Minute,
		Start:     5 * time.Minute,
		Stop:      5 * time.Minute,
		Update:    15 * time.Minute,
		Uninstall: 5 * time.Minute,
		Backup:    30 * time.Minute,
		Restore:   30 * time.Minute,
	}
}

func (t *Timeouts) applyDefaults() {
	defaults := DefaultTimeouts()
	if t.Install <= 0 {
		t.Install = defaults.Install
	}
	if t.Start <= 0 {
		t.Start = defaults.Start
	}
	if t.Stop <= 0 {
		t.Stop = defaults.Stop
	}
	if t.Update <= 0 {
		t.Update = defaults.Update
	}
	if t.Uninstall <= 0 {
		t.Uninstall = defaults.Uninstall
	}
	if t.Backup <= 0 {
		t.Backup = defaults.Backup
	}
	if t.Restore <= 0 {
		t.Restore = defaults.Restore
	}
}

// Facade is the single entry point for app lifecycle commands. The
// HTTP API and the CLI both sit on top of it.
//
// # Thread Safety
//
// Safe for concurrent use. Commands targeting the same app serialize
// through the per-app lock; the second caller gets
// datatypes.ErrOperationInProgress.
type Facade struct {
	store      *store.Store
	resolver   catalog.Resolver
	dispatcher dispatcher.Dispatcher
	envgen     *envgen.Generator
	archives   ArchiveStore
	locks      *appLocks
	timeouts   Timeouts
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// Config assembles a Facade.
type Config struct {
	Store      *store.Store
	Resolver   catalog.Resolver
	Dispatcher dispatcher.Dispatcher
	EnvGen     *envgen.Generator
	Archives   ArchiveStore
	Timeouts   Timeouts
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// New creates the lifecycle facade.
func New(cfg Config) (*Facade, error) {
	if cfg.Store == nil || cfg.Resolver == nil || cfg.Dispatcher == nil {
		return nil, errors.New("store, resolver, and dispatcher are required")
	}
	cfg.Timeouts.applyDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		dispatcher: cfg.Dispatcher,
		envgen:     cfg.EnvGen,
		archives:   cfg.Archives,
		locks:      newAppLocks(),
		timeouts:   cfg.Timeouts,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("appdock/lifecycle"),
	}, nil
}

// validateConfig checks user-supplied config against the manifest's
// form fields before anything is written or dispatched.
//
// Random fields are derived later and must not be supplied here; the
// remaining required fields must be present.
func validateConfig(manifest *datatypes.Manifest, config map[string]any) error {
	for _, field := range manifest.FormFields {
		value, present := config[field.EnvVariable]

		if field.Type == datatypes.FieldTypeRandom {
			continue
		}
		if !present {
			if field.Required {
				return datatypes.NewValidationError(field.EnvVariable, "required field missing")
			}
			continue
		}
		if s, ok := value.(string); ok {
			if field.Min > 0 && len(s) < field.Min {
				return datatypes.NewValidationError(field.EnvVariable,
					fmt.Sprintf("shorter than minimum length %d", field.Min))
			}
			if field.Max > 0 && len(s) > field.Max {
				return datatypes.NewValidationError(field.EnvVariable,
					fmt.Sprintf("longer than maximum length %d", field.Max))
			}
		}
	}
	return nil
}

// validateExposure checks an exposure request against the manifest and
// the domain-uniqueness invariant.
func (f *Facade) validateExposure(manifest *datatypes.Manifest, appID string, exposed bool, domain string) error {
	if manifest.ForceExpose && !exposed {
		return datatypes.NewValidationError("exposed", "app must be exposed")
	}
	if !exposed {
		return nil
	}
	if !manifest.Exposable {
		return datatypes.NewValidationError("exposed", "app cannot be exposed")
	}
	if !datatypes.ValidDomain(domain) {
		return datatypes.NewValidationError("domain", "not a valid domain name")
	}

	apps, err := f.store.ListApps()
	if err != nil {
		return err
	}
	for _, app := range apps {
		if app.ID != appID && app.Exposed && app.Domain == domain {
			return datatypes.NewValidationError("domain",
				fmt.Sprintf("already used by %s", app.ID))
		}
	}
	return nil
}

// exposureArgs renders the event args for an exposure selection.
func exposureArgs(exposed bool, domain string) []string {
	if !exposed || domain == "" {
		return nil
	}
	return []string{runner.ArgExposedPrefix + domain}
}
