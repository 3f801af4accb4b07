package proctor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const seedInfoPrefix = "exam-session-order:"

// SeedDeriver turns a session ID into its randomization seed. The server key
// keeps the ordering unpredictable to a learner who knows their session ID,
// while the same ID always yields the same seed for audit replay.
type SeedDeriver struct {
	key []byte
}

// NewSeedDeriver creates a deriver keyed with secret.
func NewSeedDeriver(secret string) *SeedDeriver {
	return &SeedDeriver{key: []byte(secret)}
}

// Derive returns the seed for sessionID.
func (d *SeedDeriver) Derive(sessionID string) (uint64, error) {
	r := hkdf.New(sha256.New, d.key, nil, []byte(seedInfoPrefix+sessionID))

	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("derive seed: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
