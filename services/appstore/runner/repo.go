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
)

// ErrRepoURLRequired is returned when a clone event carries no URL.
var ErrRepoURLRequired = errors.New("repository url is required")

// RepoClone clones the catalog repository. When a checkout already
// exists the clone is skipped and the existing copy is updated
// instead, so the event is safe to replay.
func (x *Executor) RepoClone(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", ErrRepoURLRequired
	}

	if _, err := os.Stat(filepath.Join(x.paths.CatalogDir, ".git")); err == nil {
		x.logger.Info("catalog already cloned, pulling instead", "dir", x.paths.CatalogDir)
		return x.RepoUpdate(ctx)
	}

	if err := os.MkdirAll(filepath.Dir(x.paths.CatalogDir), 0755); err != nil {
		return "", fmt.Errorf("creating catalog parent directory: %w", err)
	}

	out, err := x.proc.Run(ctx, "git", "clone", "--depth", "1", url, x.paths.CatalogDir)
	if err != nil {
		return "", fmt.Errorf("cloning catalog: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RepoUpdate fast-forwards the catalog checkout to upstream. Local
// drift is discarded; the checkout is treated as read-only.
func (x *Executor) RepoUpdate(ctx context.Context) (string, error) {
	if _, err := os.Stat(filepath.Join(x.paths.CatalogDir, ".git")); err != nil {
		return "", fmt.Errorf("catalog is not a git checkout: %s", x.paths.CatalogDir)
	}

	if _, _, _, err := x.proc.RunInDir(ctx, x.paths.CatalogDir, nil, "git", "fetch", "--depth", "1", "origin"); err != nil {
		return "", fmt.Errorf("fetching catalog: %w", err)
	}
	stdout, stderr, code, err := x.proc.RunInDir(ctx, x.paths.CatalogDir, nil, "git", "reset", "--hard", "origin/HEAD")
	if err != nil || code != 0 {
		return "", fmt.Errorf("resetting catalog: %s: %w", strings.TrimSpace(stderr), err)
	}
	return strings.TrimSpace(stdout), nil
}
