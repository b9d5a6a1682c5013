package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

const maxSeedLength = 32

// FindProgramAddress derives a program-derived address for seeds under
// programID, searching bump seeds from 255 down to 0.
// Returns the base58 address and the bump used.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodePubkey(programID)
	if err != nil {
		return "", 0, fmt.Errorf("program id: %w", err)
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return "", 0, fmt.Errorf("seed length %d exceeds %d", len(seed), maxSeedLength)
		}
	}

	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		// A valid PDA must lie off the ed25519 curve.
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, ErrNoViableBump
}

// DecodePubkey decodes a base58 public key and checks its length.
func DecodePubkey(pubkey string) ([]byte, error) {
	raw, err := base58.Decode(pubkey)
	if err != nil {
		return nil, fmt.Errorf("decode base58 %q: %w", pubkey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("pubkey %q has %d bytes, want 32", pubkey, len(raw))
	}
	return raw, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
