// Package idgen generates the random identifiers used across the engine:
// alert IDs ("alrt_"), escalation runs ("run_"), replay captures ("rpl_"),
// and device credentials ("dev_", "dk_").
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns numBytes of cryptographic randomness, hex encoded.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
