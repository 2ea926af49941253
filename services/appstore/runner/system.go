// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !windows

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"
)

// SystemSnapshot is the periodically refreshed host report.
type SystemSnapshot struct {
	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time `json:"captured_at"`

	// OS and Arch identify the host platform.
	OS   string `json:"os"`
	Arch string `json:"arch"`

	// NumCPU is the logical CPU count.
	NumCPU int `json:"num_cpu"`

	// DiskTotalBytes and DiskFreeBytes describe the filesystem
	// holding the data directory.
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
}

// SystemInfo captures a host snapshot and writes it to the state
// directory. Returns the snapshot as JSON.
func (x *Executor) SystemInfo(_ context.Context) (string, error) {
	snapshot := SystemSnapshot{
		CapturedAt: time.Now().UTC(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(x.paths.DataDir, &stat); err == nil {
		snapshot.DiskTotalBytes = stat.Blocks * uint64(stat.Bsize)
		snapshot.DiskFreeBytes = stat.Bavail * uint64(stat.Bsize)
	} else {
		x.logger.Warn("statfs failed, disk figures omitted", "dir", x.paths.DataDir, "error", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(x.paths.StateDir, 0750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(x.paths.SystemInfoFile(), payload, 0644); err != nil {
		return "", fmt.Errorf("writing system snapshot: %w", err)
	}
	return string(payload), nil
}
