// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package envgen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/appdock/services/appstore/layout"
)

// placeholderFiles are marker files kept in packaged data directories
// only so empty directories survive version control. They are never
// copied to the live data directory.
var placeholderFiles = map[string]bool{
	".gitkeep": true,
	".keep":    true,
}

// RenderDataTemplates materializes an app's packaged data directory
// into its live data directory.
//
// For every file under the installed app's data/ subtree:
//
//   - names ending in ".template" have {{KEY}} placeholders substituted
//     from env and are written without the suffix
//   - placeholder marker files (.gitkeep, .keep) are skipped
//   - everything else is copied verbatim
//
// Subdirectories are recursed preserving structure. Existing files are
// overwritten, which keeps the operation idempotent.
func (g *Generator) RenderDataTemplates(appID string, env map[string]string) error {
	src := filepath.Join(g.paths.InstalledApp(appID), "data")
	dst := g.paths.AppData(appID)

	if _, err := os.Stat(src); os.IsNotExist(err) {
		// Apps without a packaged data directory are fine.
		return nil
	}
	return g.renderDir(src, dst, env)
}

func (g *Generator) renderDir(src, dst string, env map[string]string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading packaged data directory: %w", err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())

		if entry.IsDir() {
			if err := g.renderDir(srcPath, filepath.Join(dst, entry.Name()), env); err != nil {
				return err
			}
			continue
		}
		if placeholderFiles[entry.Name()] {
			continue
		}

		if strings.HasSuffix(entry.Name(), layout.TemplateSuffix) {
			rendered := strings.TrimSuffix(entry.Name(), layout.TemplateSuffix)
			if err := renderTemplate(srcPath, filepath.Join(dst, rendered), env); err != nil {
				return err
			}
			continue
		}

		if err := copyFile(srcPath, filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// renderTemplate substitutes {{KEY}} placeholders from env.
// Unknown placeholders are left untouched so app-native moustache
// syntax survives rendering.
func renderTemplate(src, dst string, env map[string]string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", src, err)
	}

	content := string(data)
	for key, value := range env {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return os.WriteFile(dst, []byte(content), 0644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
