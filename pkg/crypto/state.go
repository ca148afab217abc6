// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// stateEntropyBytes is the number of random bytes in a generated state value.
// 32 bytes gives 256 bits of entropy, well beyond what CSRF binding needs.
const stateEntropyBytes = 32

// GenerateState generates a cryptographically secure opaque identifier for
// correlating an upstream callback with the attempt that started it.
// The value is base64url encoded without padding.
func GenerateState() (string, error) {
	b := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read entropy source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
