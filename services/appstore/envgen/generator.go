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
	"os"
	"strconv"

	"log/slog"

	"github.com/AleutianAI/appdock/services/appstore/catalog"
	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/layout"
	"github.com/AleutianAI/appdock/services/appstore/secrets"
)

// Well-known keys the generator always controls.
const (
	envKeyAppID      = "APP_ID"
	envKeyAppPort    = "APP_PORT"
	envKeyAppDataDir = "APP_DATA_DIR"
	envKeyExposed    = "APP_EXPOSED"
	envKeyDomain     = "APP_DOMAIN"
	envKeyProtocol   = "APP_PROTOCOL"
	envKeyHost       = "APP_HOST"

	envKeyVapidPublic  = "VAPID_PUBLIC_KEY"
	envKeyVapidPrivate = "VAPID_PRIVATE_KEY"
)

// Options carries the per-call inputs for env generation.
type Options struct {
	// Config maps manifest env_variable names to user-supplied values.
	// Explicitly provided values win, including explicit false.
	Config map[string]any

	// Exposed and Domain select the exposure block of the env file.
	Exposed bool
	Domain  string
}

// Generator builds env files from the manifest, the persisted seed,
// and previously generated values.
//
// # Idempotence
//
// Random-typed fields reuse the value found in the existing env file
// when one is present, and otherwise derive one from the seed. Either
// way, two consecutive generations with unchanged inputs produce
// identical files.
//
// # Thread Safety
//
// Safe for concurrent use across different app ids. Concurrent
// generation for the same app id is prevented by the lifecycle facade's
// per-app locks.
type Generator struct {
	paths      layout.Paths
	deriver    *secrets.Deriver
	resolver   catalog.Resolver
	internalIP string
	logger     *slog.Logger
}

// NewGenerator creates a Generator.
//
// internalIP is the address apps bind to when not exposed under a
// domain.
func NewGenerator(paths layout.Paths, deriver *secrets.Deriver, resolver catalog.Resolver, internalIP string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		paths:      paths,
		deriver:    deriver,
		resolver:   resolver,
		internalIP: internalIP,
		logger:     logger,
	}
}

// Generate builds and writes the env file for appID.
//
// Returns the generated map so callers (template rendering, tests) can
// use it without re-reading the file. Validation failures (missing
// required fields) are reported before anything is written.
func (g *Generator) Generate(appID string, opts Options) (map[string]string, error) {
	manifest, err := g.resolver.Resolve(appID)
	if err != nil {
		return nil, err
	}

	prior, err := ParseEnvFile(g.paths.EnvFile(appID))
	if err != nil {
		return nil, err
	}

	env := map[string]string{
		envKeyAppID:      appID,
		envKeyAppPort:    strconv.Itoa(manifest.Port),
		envKeyAppDataDir: g.paths.AppData(appID),
	}

	if manifest.GenerateVapidKeys {
		if err := g.resolveVapid(env, prior); err != nil {
			return nil, err
		}
	}

	for _, field := range manifest.FormFields {
		if !envKeyPattern.MatchString(field.EnvVariable) {
			return nil, fmt.Errorf("%w: %q", ErrBadEnvKey, field.EnvVariable)
		}
		value, err := g.resolveField(appID, field, opts.Config, prior)
		if err != nil {
			return nil, err
		}
		if value != nil {
			env[field.EnvVariable] = *value
		}
	}

	if opts.Exposed && opts.Domain != "" {
		env[envKeyExposed] = "true"
		env[envKeyDomain] = opts.Domain
		env[envKeyProtocol] = "https"
		env[envKeyHost] = opts.Domain
	} else {
		env[envKeyExposed] = "false"
		env[envKeyProtocol] = "http"
		env[envKeyHost] = g.internalIP
		env[envKeyDomain] = fmt.Sprintf("%s:%d", g.internalIP, manifest.Port)
	}

	if err := os.MkdirAll(g.paths.AppData(appID), 0755); err != nil {
		return nil, fmt.Errorf("creating app data directory: %w", err)
	}
	if err := WriteEnvFile(g.paths.EnvFile(appID), env); err != nil {
		return nil, fmt.Errorf("writing env file: %w", err)
	}
	return env, nil
}

// resolveVapid reuses a previously generated pair when present, else
// generates and records a fresh one.
func (g *Generator) resolveVapid(env, prior map[string]string) error {
	pub, hasPub := prior[envKeyVapidPublic]
	priv, hasPriv := prior[envKeyVapidPrivate]
	if hasPub && hasPriv && pub != "" && priv != "" {
		env[envKeyVapidPublic] = pub
		env[envKeyVapidPrivate] = priv
		return nil
	}

	keys, err := secrets.GenerateVapidKeys()
	if err != nil {
		return err
	}
	env[envKeyVapidPublic] = keys.PublicKey
	env[envKeyVapidPrivate] = keys.PrivateKey
	return nil
}

// resolveField resolves a single form field to its env value.
//
// Resolution order:
//  1. explicitly provided config value (including explicit false)
//  2. previously generated value for random fields
//  3. fresh derivation for random fields
//  4. nil for optional absent fields, validation error for required
func (g *Generator) resolveField(appID string, field datatypes.FormField, config map[string]any, prior map[string]string) (*string, error) {
	if raw, ok := config[field.EnvVariable]; ok {
		formatted := formatValue(raw)
		return &formatted, nil
	}

	if field.Type == datatypes.FieldTypeRandom {
		if existing, ok := prior[field.EnvVariable]; ok && existing != "" {
			return &existing, nil
		}
		length := field.Min
		if length <= 0 {
			length = secrets.DefaultLength
		}
		derived, err := g.deriver.Derive(fmt.Sprintf("%s_%s", appID, field.EnvVariable), length)
		if err != nil {
			return nil, err
		}
		return &derived, nil
	}

	if field.Required {
		return nil, datatypes.NewValidationError(field.EnvVariable, "required field missing")
	}
	return nil, nil
}

// formatValue renders a config value for the env file.
func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
