// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the daemon's YAML configuration.
package config

import (
	"path/filepath"
	"time"

	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// AppDockConfig is the root configuration, read from appdock.yaml.
type AppDockConfig struct {
	// Root is the base directory for all engine state. Every relative
	// path below resolves under it.
	Root string `yaml:"root" mapstructure:"root"`

	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Compose   ComposeConfig   `yaml:"compose" mapstructure:"compose"`
	Repo      RepoConfig      `yaml:"repo" mapstructure:"repo"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" mapstructure:"timeouts"`
}

// ServerConfig configures the HTTP listener and app addressing.
type ServerConfig struct {
	// Host is the bind address for the API server.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the API server port.
	Port int `yaml:"port" mapstructure:"port"`

	// InternalIP is the address unexposed apps are reachable on.
	InternalIP string `yaml:"internal_ip" mapstructure:"internal_ip"`
}

// ComposeConfig configures container execution.
type ComposeConfig struct {
	// Binary is the compose-capable container CLI.
	Binary string `yaml:"binary" mapstructure:"binary"`

	// ProjectPrefix namespaces compose projects on a shared host.
	ProjectPrefix string `yaml:"project_prefix" mapstructure:"project_prefix"`
}

// RepoConfig configures catalog repository syncing.
type RepoConfig struct {
	// URL is the catalog git repository. Empty disables syncing.
	URL string `yaml:"url" mapstructure:"url"`

	// SyncSchedule is the cron spec for catalog updates.
	SyncSchedule string `yaml:"sync_schedule" mapstructure:"sync_schedule"`

	// SystemInfoSchedule is the cron spec for host snapshots.
	SystemInfoSchedule string `yaml:"system_info_schedule" mapstructure:"system_info_schedule"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" mapstructure:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json" mapstructure:"json"`
}

// TelemetryConfig configures exporters.
type TelemetryConfig struct {
	// Traces is none, stdout, or otlp.
	Traces string `yaml:"traces" mapstructure:"traces"`

	// Metrics is none, stdout, or prometheus.
	Metrics string `yaml:"metrics" mapstructure:"metrics"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
}

// TimeoutConfig bounds the wait on each dispatched operation, in
// Go duration syntax ("15m", "1h"). Zero fields use defaults.
type TimeoutConfig struct {
	Install   string `yaml:"install" mapstructure:"install"`
	Start     string `yaml:"start" mapstructure:"start"`
	Stop      string `yaml:"stop" mapstructure:"stop"`
	Update    string `yaml:"update" mapstructure:"update"`
	Uninstall string `yaml:"uninstall" mapstructure:"uninstall"`
	Backup    string `yaml:"backup" mapstructure:"backup"`
	Restore   string `yaml:"restore" mapstructure:"restore"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() AppDockConfig {
	return AppDockConfig{
		Root: "~/.appdock",
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8098,
			InternalIP: "127.0.0.1",
		},
		Compose: ComposeConfig{
			Binary:        "docker",
			ProjectPrefix: "appdock-",
		},
		Repo: RepoConfig{
			SyncSchedule:       "@every 6h",
			SystemInfoSchedule: "@every 15m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Traces:  "none",
			Metrics: "prometheus",
		},
	}
}

// Layout maps the configured root onto the on-disk directory scheme.
func (c AppDockConfig) Layout() layout.Paths {
	root := expandHome(c.Root)
	return layout.Paths{
		CatalogDir: filepath.Join(root, "repo"),
		AppsDir:    filepath.Join(root, "apps"),
		DataDir:    filepath.Join(root, "app-data"),
		BackupsDir: filepath.Join(root, "backups"),
		StateDir:   filepath.Join(root, "state"),
	}
}

// Duration parses one timeout field, returning 0 (use default) when
// the field is empty or malformed.
func (t TimeoutConfig) Duration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
