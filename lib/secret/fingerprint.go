// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// fingerprintContext domain-separates credential fingerprints from any
// other BLAKE3 use of the same bytes.
const fingerprintContext = "jmsh 2026 credential fingerprint"

// fingerprintBytes is the length of the fingerprint before hex encoding.
// Eight bytes distinguish the handful of sessions one agent holds while
// revealing nothing usable about them.
const fingerprintBytes = 8

// Fingerprint returns a 16-hex-digit BLAKE3 key-derivation tag of
// value. Equal inputs always produce equal fingerprints.
func Fingerprint(value []byte) string {
	hasher := blake3.NewDeriveKey(fingerprintContext)
	hasher.Write(value)
	return hex.EncodeToString(hasher.Sum(nil)[:fingerprintBytes])
}
