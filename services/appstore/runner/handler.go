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
	"fmt"
	"strings"

	"log/slog"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/envgen"
)

// Argument flags understood by app events.
const (
	// ArgExposedPrefix marks an exposure request: "--exposed=<domain>".
	ArgExposedPrefix = "--exposed="

	// ArgResume asks backup to restart the stack afterwards.
	ArgResume = "--resume"
)

// NewHandler returns the dispatcher handler that routes events to the
// executor.
//
// Failures are folded into the result: Success is false and Stdout
// carries the error text, so waiters get diagnostics without a second
// channel.
func NewHandler(x *Executor, logger *slog.Logger) func(ctx context.Context, event *datatypes.Event) datatypes.Result {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, event *datatypes.Event) datatypes.Result {
		stdout, err := dispatch(ctx, x, event)
		if err != nil {
			logger.Error("event execution failed",
				"event_id", event.ID,
				"command", event.Command,
				"app_id", event.AppID,
				"error", err)
			return datatypes.Result{Success: false, Stdout: err.Error()}
		}
		return datatypes.Result{Success: true, Stdout: stdout}
	}
}

func dispatch(ctx context.Context, x *Executor, event *datatypes.Event) (string, error) {
	switch event.Type {
	case datatypes.EventTypeApp:
		return dispatchApp(ctx, x, event)
	case datatypes.EventTypeRepo:
		return dispatchRepo(ctx, x, event)
	case datatypes.EventTypeSystem:
		return dispatchSystem(ctx, x, event)
	default:
		return "", fmt.Errorf("unknown event type %q", event.Type)
	}
}

func dispatchApp(ctx context.Context, x *Executor, event *datatypes.Event) (string, error) {
	opts := envgen.Options{Config: event.Form}
	for _, arg := range event.Args {
		if domain, ok := strings.CutPrefix(arg, ArgExposedPrefix); ok {
			opts.Exposed = true
			opts.Domain = domain
		}
	}

	switch event.Command {
	case datatypes.CommandInstall:
		return x.Install(ctx, event.AppID, opts)
	case datatypes.CommandStart:
		return x.Start(ctx, event.AppID, opts)
	case datatypes.CommandStop:
		return x.Stop(ctx, event.AppID)
	case datatypes.CommandUninstall:
		return x.Uninstall(ctx, event.AppID)
	case datatypes.CommandUpdate:
		return x.Update(ctx, event.AppID, opts)
	case datatypes.CommandBackup:
		resume := false
		for _, arg := range event.Args {
			if arg == ArgResume {
				resume = true
			}
		}
		return x.Backup(ctx, event.AppID, resume)
	case datatypes.CommandRestore:
		if len(event.Args) == 0 || event.Args[0] == "" {
			return "", fmt.Errorf("restore event for %s carries no archive name", event.AppID)
		}
		return x.Restore(ctx, event.AppID, event.Args[0])
	default:
		return "", fmt.Errorf("unknown app command %q", event.Command)
	}
}

func dispatchRepo(ctx context.Context, x *Executor, event *datatypes.Event) (string, error) {
	switch event.Command {
	case datatypes.CommandClone:
		if len(event.Args) == 0 {
			return "", ErrRepoURLRequired
		}
		return x.RepoClone(ctx, event.Args[0])
	case datatypes.CommandRepoUpdate:
		return x.RepoUpdate(ctx)
	default:
		return "", fmt.Errorf("unknown repo command %q", event.Command)
	}
}

func dispatchSystem(ctx context.Context, x *Executor, event *datatypes.Event) (string, error) {
	switch event.Command {
	case datatypes.CommandSystemInfo:
		return x.SystemInfo(ctx)
	default:
		return "", fmt.Errorf("unknown system command %q", event.Command)
	}
}
