// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance loaded once per process.
	Global AppDockConfig
	once   sync.Once
)

// Load reads the config file into Global, creating a default file on
// first run. Environment variables prefixed APPDOCK_ override file
// values (APPDOCK_SERVER_PORT, APPDOCK_REPO_URL, ...).
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal(defaultConfigPath())
	})
	return err
}

// LoadFrom is Load with an explicit path, bypassing the singleton.
// Used by tests and the -config flag.
func LoadFrom(path string) (AppDockConfig, error) {
	var cfg AppDockConfig
	if err := loadPath(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "appdock.yaml"
	}
	return filepath.Join(home, ".appdock", "appdock.yaml")
}

func loadInternal(path string) error {
	return loadPath(path, &Global)
}

func loadPath(path string, out *AppDockConfig) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APPDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyDefaults(out)
	return nil
}

// applyDefaults fills fields older config files may not carry.
func applyDefaults(cfg *AppDockConfig) {
	defaults := DefaultConfig()
	if cfg.Root == "" {
		cfg.Root = defaults.Root
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.InternalIP == "" {
		cfg.Server.InternalIP = defaults.Server.InternalIP
	}
	if cfg.Compose.Binary == "" {
		cfg.Compose.Binary = defaults.Compose.Binary
	}
	if cfg.Compose.ProjectPrefix == "" {
		cfg.Compose.ProjectPrefix = defaults.Compose.ProjectPrefix
	}
	if cfg.Repo.SyncSchedule == "" {
		cfg.Repo.SyncSchedule = defaults.Repo.SyncSchedule
	}
	if cfg.Repo.SystemInfoSchedule == "" {
		cfg.Repo.SystemInfoSchedule = defaults.Repo.SystemInfoSchedule
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Telemetry.Traces == "" {
		cfg.Telemetry.Traces = defaults.Telemetry.Traces
	}
	if cfg.Telemetry.Metrics == "" {
		cfg.Telemetry.Metrics = defaults.Telemetry.Metrics
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// expandHome resolves a leading ~ against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
