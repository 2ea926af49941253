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
	"os"
	"runtime"
	"time"
)

// SystemSnapshot is the periodically refreshed host report.
type SystemSnapshot struct {
	CapturedAt     time.Time `json:"captured_at"`
	OS             string    `json:"os"`
	Arch           string    `json:"arch"`
	NumCPU         int       `json:"num_cpu"`
	DiskTotalBytes uint64    `json:"disk_total_bytes"`
	DiskFreeBytes  uint64    `json:"disk_free_bytes"`
}

// SystemInfo captures a host snapshot and writes it to the state
// directory. Disk figures are not reported on this platform.
func (x *Executor) SystemInfo(_ context.Context) (string, error) {
	snapshot := SystemSnapshot{
		CapturedAt: time.Now().UTC(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
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
