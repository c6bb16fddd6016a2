package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// HashLock is the SHA-256 commitment a tenant attaches at rent-start.
// The zero value means no lock is active.
type HashLock [sha256.Size]byte

// LockFor derives the hash lock for a secret.
func LockFor(preimage []byte) HashLock {
	return HashLock(sha256.Sum256(preimage))
}

// ParseHashLock decodes a hex encoded 32-byte digest.
func ParseHashLock(s string) (HashLock, error) {
	var h HashLock
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash lock: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash lock: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether no lock is set.
func (h HashLock) IsZero() bool {
	return h == HashLock{}
}

// Opens reports whether preimage hashes exactly to h.
func (h HashLock) Opens(preimage []byte) bool {
	if h.IsZero() {
		return false
	}
	sum := sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(sum[:], h[:]) == 1
}

func (h HashLock) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns nil for the zero lock so stores can persist it as NULL.
func (h HashLock) Bytes() []byte {
	if h.IsZero() {
		return nil
	}
	b := make([]byte, len(h))
	copy(b, h[:])
	return b
}

// HashLockFromBytes is the inverse of Bytes.
func HashLockFromBytes(b []byte) (HashLock, error) {
	var h HashLock
	if len(b) == 0 {
		return h, nil
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash lock: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// LockPhase classifies where a listing sits in the HTLC state machine.
type LockPhase string

const (
	LockPhaseVacant   LockPhase = "VACANT"
	LockPhaseLocked   LockPhase = "LOCKED"
	LockPhaseUnlocked LockPhase = "UNLOCKED"
)
