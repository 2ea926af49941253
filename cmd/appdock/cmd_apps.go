// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/appdock/cmd/appdock/config"
	"github.com/AleutianAI/appdock/services/appstore/httpapi"
)

// apiClient keeps client timeouts generous: lifecycle commands block
// until the daemon finishes or times out server-side.
var apiClient = &http.Client{Timeout: 35 * time.Minute}

func apiBase() string {
	host := config.Global.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/v1", host, config.Global.Server.Port)
}

// callAPI performs one request and pretty-prints the JSON response.
// Non-2xx responses surface the daemon's error envelope.
func callAPI(method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, apiBase()+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope httpapi.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("%s (%s)", envelope.Error, envelope.Code)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// parseSetFlags turns repeated KEY=VALUE flags into a config map.
func parseSetFlags(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for _, kv := range values {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed --set %q, want KEY=VALUE", kv)
		}
		out[key] = value
	}
	return out, nil
}

func runList(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodGet, "/apps", nil)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodGet, "/apps/"+args[0], nil)
}

func runInstall(cmd *cobra.Command, args []string) error {
	values, err := parseSetFlags(configValues)
	if err != nil {
		return err
	}
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/install", httpapi.InstallRequest{
		Config:       values,
		Exposed:      exposeDomain != "",
		Domain:       exposeDomain,
		OpenPort:     openPort,
		ExposedLocal: exposeLocal,
	})
}

func runStart(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/start", nil)
}

func runStop(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/stop", nil)
}

func runRestart(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/restart", nil)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/update", nil)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/uninstall",
		httpapi.UninstallRequest{RemoveBackups: removeBackups})
}

func runBackup(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/backups", nil)
}

func runBackups(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/apps/%s/backups?page=%d&page_size=%d", args[0], backupPage, backupSize)
	return callAPI(http.MethodGet, path, nil)
}

func runRestore(cmd *cobra.Command, args []string) error {
	return callAPI(http.MethodPost, "/apps/"+args[0]+"/restore",
		httpapi.RestoreRequest{BackupID: args[1]})
}
