// Package rand generates the cryptographically random handshake padding
// and session identifiers this server hands out.
package rand

import (
	cryptoRand "crypto/rand"

	"github.com/google/uuid"
)

// Fill fills b with cryptographically-safe random data, as used for the
// C1/S1 handshake padding.
func Fill(b []byte) error {
	_, err := cryptoRand.Read(b)
	return err
}

// SessionID returns a new random session identifier.
func SessionID() string {
	return uuid.NewString()
}
