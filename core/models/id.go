package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewJobID returns a new job identifier: an 8-hex-char big-endian Unix-second prefix followed
// by 4 random hex chars, giving a 12-character id that sorts lexicographically by creation time
// and is collision-resistant for concurrent runs started in the same second.
func NewJobID(now time.Time) string {
	prefix := fmt.Sprintf("%08x", uint32(now.Unix()))
	suffix := make([]byte, 2)
	_, err := rand.Read(suffix)
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a fixed suffix rather
		// than panic, since job ids only need to be unique, not cryptographically random.
		suffix = []byte{0, 0}
	}
	return prefix + hex.EncodeToString(suffix)
}
