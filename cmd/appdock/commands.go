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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath    string
	exposeDomain  string
	openPort      bool
	exposeLocal   bool
	configValues  []string
	removeBackups bool
	backupPage    int
	backupSize    int

	rootCmd = &cobra.Command{
		Use:   "appdock",
		Short: "A self-hosted app store for compose-packaged applications",
		Long: `AppDock installs, runs, updates, and backs up third-party
applications packaged as container-compose bundles from a git catalog.`,
	}

	// --- Daemon ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the AppDock daemon",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- App Lifecycle ---
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed apps and their status",
		RunE:  runList, // Defined in cmd_apps.go
	}
	statusCmd = &cobra.Command{
		Use:   "status [app_id]",
		Short: "Show one app merged with its catalog manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	installCmd = &cobra.Command{
		Use:   "install [app_id]",
		Short: "Install an app from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstall,
	}
	startCmd = &cobra.Command{
		Use:   "start [app_id]",
		Short: "Start a stopped app",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}
	stopCmd = &cobra.Command{
		Use:   "stop [app_id]",
		Short: "Stop a running app",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	restartCmd = &cobra.Command{
		Use:     "restart [app_id]",
		Short:   "Stop then start an app",
		Aliases: []string{"reset"},
		Args:    cobra.ExactArgs(1),
		RunE:    runRestart,
	}
	updateCmd = &cobra.Command{
		Use:   "update [app_id]",
		Short: "Update an app to the current catalog version",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate,
	}
	uninstallCmd = &cobra.Command{
		Use:   "uninstall [app_id]",
		Short: "Tear an app down and delete it",
		Args:  cobra.ExactArgs(1),
		RunE:  runUninstall,
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup [app_id]",
		Short: "Archive an app's data directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	}
	backupsCmd = &cobra.Command{
		Use:   "backups [app_id]",
		Short: "List an app's backups, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackups,
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [app_id] [backup_id]",
		Short: "Replace an app's data with an archived snapshot",
		Args:  cobra.ExactArgs(2),
		RunE:  runRestore,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default ~/.appdock/appdock.yaml)")

	installCmd.Flags().StringVar(&exposeDomain, "expose", "",
		"Publish the app under this domain")
	installCmd.Flags().BoolVar(&openPort, "open-port", false,
		"Publish the app port on the host")
	installCmd.Flags().BoolVar(&exposeLocal, "expose-local", false,
		"Expose the app on the local network only")
	installCmd.Flags().StringArrayVar(&configValues, "set", nil,
		"Form field value as KEY=VALUE (repeatable)")

	uninstallCmd.Flags().BoolVar(&removeBackups, "remove-backups", false,
		"Also delete the app's backups")

	backupsCmd.Flags().IntVar(&backupPage, "page", 1, "Page number")
	backupsCmd.Flags().IntVar(&backupSize, "page-size", 10, "Backups per page")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
}
