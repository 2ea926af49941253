// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// VapidKeys is a web-push VAPID key pair in the wire encoding apps
// expect: base64url without padding, public key as the uncompressed
// P-256 point, private key as the 32-byte scalar.
type VapidKeys struct {
	PublicKey  string
	PrivateKey string
}

// GenerateVapidKeys creates a fresh P-256 key pair.
//
// VAPID keys are the one secret that cannot be derived from the seed:
// the key pair must be mathematically consistent, so it is generated
// once and then reused from the previously written env file. The env
// generator is responsible for that reuse.
func GenerateVapidKeys() (VapidKeys, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return VapidKeys{}, fmt.Errorf("generating vapid key pair: %w", err)
	}

	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	enc := base64.RawURLEncoding

	// The scalar is left-padded to a fixed 32 bytes.
	d := priv.D.Bytes()
	scalar := make([]byte, 32)
	copy(scalar[32-len(d):], d)

	return VapidKeys{
		PublicKey:  enc.EncodeToString(pub),
		PrivateKey: enc.EncodeToString(scalar),
	}, nil
}
