// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Manifest types for installable apps.
//
// A manifest is the read-only descriptor shipped with each catalog app
// (config.json in the app's catalog directory). This engine only
// validates and consumes manifests; it never writes them.
package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Form Field Types
// =============================================================================

// Field type values accepted in manifest form_fields.
const (
	FieldTypeText     = "text"
	FieldTypePassword = "password"
	FieldTypeEmail    = "email"
	FieldTypeURL      = "url"
	FieldTypeNumber   = "number"
	FieldTypeBoolean  = "boolean"

	// FieldTypeRandom fields are derived from the secret seed instead
	// of being supplied by the user. They never appear in App.Config.
	FieldTypeRandom = "random"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// manifestValidate is the validator instance for manifest parsing.
var manifestValidate *validator.Validate

func init() {
	manifestValidate = validator.New()

	// form field types are a closed set
	_ = manifestValidate.RegisterValidation("fieldtype", validateFieldType)
}

// validateFieldType checks that a form field type is a known value.
func validateFieldType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case FieldTypeText, FieldTypePassword, FieldTypeEmail, FieldTypeURL,
		FieldTypeNumber, FieldTypeBoolean, FieldTypeRandom:
		return true
	default:
		return false
	}
}

// =============================================================================
// Manifest Types
// =============================================================================

// FormField describes one user-facing configuration input.
type FormField struct {
	// EnvVariable is the key written to the generated env file.
	EnvVariable string `json:"env_variable" validate:"required"`

	// Type determines input handling. See the FieldType constants.
	Type string `json:"type" validate:"required,fieldtype"`

	// Label is the human-readable prompt shown by the UI.
	Label string `json:"label"`

	// Required fields must be present in the submitted config unless
	// Type is random (those are derived).
	Required bool `json:"required"`

	// Min is a lower bound: minimum string length for text-like
	// fields, and the derived length for random fields (default 32).
	Min int `json:"min,omitempty"`

	// Max is the maximum string length, 0 for unlimited.
	Max int `json:"max,omitempty"`
}

// Manifest is the read-only descriptor of an installable app.
//
// Field names follow the catalog's config.json schema.
type Manifest struct {
	// ID must match the catalog directory name.
	ID string `json:"id" validate:"required"`

	// Name is the display name.
	Name string `json:"name" validate:"required"`

	// Port is the app's primary internal port.
	Port int `json:"port" validate:"required,gt=0,lte=65535"`

	// Version is the upstream image version string.
	Version string `json:"version"`

	// TipiVersion is the monotonically increasing manifest revision.
	// App.Version records this value at install/update time.
	TipiVersion int `json:"tipi_version" validate:"required,gt=0"`

	// FormFields are the user-facing configuration inputs.
	FormFields []FormField `json:"form_fields" validate:"dive"`

	// Exposable permits publishing the app under a domain.
	Exposable bool `json:"exposable"`

	// ForceExpose requires the app to be exposed; installs that do not
	// provide a domain are rejected.
	ForceExpose bool `json:"force_expose"`

	// GenerateVapidKeys requests a VAPID key pair in the env file
	// (web-push capable apps).
	GenerateVapidKeys bool `json:"generate_vapid_keys"`

	// SupportedArchitectures limits the host architectures the app can
	// run on. Empty means all.
	SupportedArchitectures []string `json:"supported_architectures,omitempty"`
}

// SupportsArchitecture reports whether the manifest permits arch.
//
// An empty SupportedArchitectures list permits every architecture.
func (m *Manifest) SupportsArchitecture(arch string) bool {
	if len(m.SupportedArchitectures) == 0 {
		return true
	}
	for _, a := range m.SupportedArchitectures {
		if a == arch {
			return true
		}
	}
	return false
}

// ParseManifest decodes and validates a manifest document.
//
// Returns a wrapped ErrManifestInvalid when the JSON is malformed or the
// schema constraints fail, so callers can treat malformed manifests as
// absent for listing operations.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if err := manifestValidate.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if !ValidAppID(m.ID) {
		return nil, fmt.Errorf("%w: id %q is not a valid app slug", ErrManifestInvalid, m.ID)
	}
	return &m, nil
}
