// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package envgen builds the per-app environment file and renders packaged
data-directory templates.

The env file is the contract between the orchestration engine and the
container invocation: newline-delimited KEY=VALUE pairs passed as an
env-file argument. Generation is idempotent; regenerating with
unchanged inputs produces byte-identical output, including values for
random-derived fields (see the secrets package).
*/
package envgen

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// envKeyPattern validates env var keys before they are written.
// Prevents config injection through malformed manifest env_variable
// names.
var envKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrBadEnvKey is returned when a manifest names an unusable env
// variable.
var ErrBadEnvKey = errors.New("invalid environment variable name")

// ParseEnvFile reads a KEY=VALUE env file into a map.
//
// A missing file yields an empty map, not an error: callers use the
// result to look up previously generated values and absence just means
// there is nothing to reuse. Blank lines and #-comments are skipped.
func ParseEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return env, nil
		}
		return nil, fmt.Errorf("reading env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || !envKeyPattern.MatchString(key) {
			continue
		}
		env[key] = value
	}
	return env, nil
}

// WriteEnvFile writes env as sorted KEY=VALUE lines.
//
// Keys are sorted so regeneration with unchanged inputs is
// byte-identical. The file is written with 0640 permissions since it
// may carry derived secrets.
func WriteEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for key := range env {
		if !envKeyPattern.MatchString(key) {
			return fmt.Errorf("%w: %q", ErrBadEnvKey, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(env[key])
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0640)
}
