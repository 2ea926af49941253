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
Package secrets provides deterministic secret derivation for app installs.

Instead of generating random values and persisting each of them, the
engine keeps a single random seed on disk and derives every per-app
secret from it:

	secret = hex(HMAC-SHA256(seed, label))[:length]

The same seed and label always produce the same secret, which makes env
file generation idempotent and app reinstalls reproducible, while the
values stay unguessable without the seed file.

# Security

The seed is the sole root of every derived secret. It is created once
with crypto/rand, written with 0600 permissions, and never rotated by
this package. Derived values must not be logged.
*/
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrSeedUnreadable is returned when the seed file exists but
	// cannot be read or has been corrupted.
	ErrSeedUnreadable = errors.New("seed file unreadable")

	// ErrBadLength is returned for derivation lengths outside 1..64.
	ErrBadLength = errors.New("derived length out of range")
)

// seedBytes is the size of the persisted random seed.
const seedBytes = 32

// maxDerivedLength is the longest derivable string: the hex encoding of
// a SHA-256 digest.
const maxDerivedLength = 64

// DefaultLength is used when a manifest field does not specify one.
const DefaultLength = 32

// =============================================================================
// Deriver
// =============================================================================

// Deriver produces reproducible secrets from a persisted seed.
//
// # Thread Safety
//
// Deriver is immutable after construction and safe for concurrent use.
type Deriver struct {
	seed []byte
}

// LoadOrCreate opens the seed at path, creating it on first run.
//
// The seed file holds the hex encoding of 32 random bytes. The parent
// directory is created if needed. The file is written with 0600
// permissions; an existing file's permissions are left untouched.
func LoadOrCreate(path string) (*Deriver, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, decErr := hex.DecodeString(string(data))
		if decErr != nil || len(seed) != seedBytes {
			return nil, fmt.Errorf("%w: %s", ErrSeedUnreadable, path)
		}
		return &Deriver{seed: seed}, nil

	case os.IsNotExist(err):
		seed := make([]byte, seedBytes)
		if _, rErr := rand.Read(seed); rErr != nil {
			return nil, fmt.Errorf("generating seed: %w", rErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0750); mkErr != nil {
			return nil, fmt.Errorf("creating seed directory: %w", mkErr)
		}
		if wErr := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0600); wErr != nil {
			return nil, fmt.Errorf("writing seed: %w", wErr)
		}
		return &Deriver{seed: seed}, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrSeedUnreadable, err)
	}
}

// NewFromSeed builds a Deriver over an in-memory seed. Intended for
// tests; production code should use LoadOrCreate.
func NewFromSeed(seed []byte) *Deriver {
	cp := make([]byte, len(seed))
	copy(cp, seed)
	return &Deriver{seed: cp}
}

// Derive returns the deterministic secret for label, truncated to
// length hex characters.
//
// The same (seed, label, length) triple always yields the same value.
// Length must be in 1..64; manifest callers default to DefaultLength.
func (d *Deriver) Derive(label string, length int) (string, error) {
	if length <= 0 || length > maxDerivedLength {
		return "", fmt.Errorf("%w: %d", ErrBadLength, length)
	}
	mac := hmac.New(sha256.New, d.seed)
	mac.Write([]byte(label))
	return hex.EncodeToString(mac.Sum(nil))[:length], nil
}
