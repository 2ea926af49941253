// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command appdock manages a self-hosted app store: a catalog of
// compose-packaged applications installed, started, backed up, and
// updated through one daemon.
//
// Usage:
//
//	appdock serve                 # run the daemon
//	appdock list                  # list installed apps
//	appdock install gitea --expose git.example.com
//	appdock backup gitea
//
// All commands except serve talk to a running daemon over its HTTP
// API; the address comes from ~/.appdock/appdock.yaml or APPDOCK_*
// environment variables.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/appdock/cmd/appdock/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			config.Global = cfg
			return nil
		}
		return config.Load()
	}
}
