// Package hashutil provides the deterministic content and configuration
// hashing primitives used throughout ionify. All hashing is SHA-256;
// there is no pluggable algorithm.
package hashutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Size is the length in bytes of a Hash.
const Size = sha256.Size

// Hash is a 32-byte SHA-256 digest.
type Hash [Size]byte

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// ShortHex returns the first n hex characters of h's encoding.
func (h Hash) ShortHex(n int) string {
	s := h.Hex()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// HashBytes computes the SHA-256 digest of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashMany computes a domain-separated digest over multiple parts.
//
// Each part is length-prefixed (8-byte big-endian) before being fed to
// the hasher so that HashMany([]byte("a"), []byte("bc")) can never
// collide with HashMany([]byte("ab"), []byte("c")).
func HashMany(parts ...[]byte) Hash {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HexToHash parses a hex-encoded digest. It does not require the input
// to be exactly Size bytes once decoded; callers that need a full
// 32-byte hash should check len(out) == Size themselves.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], b)
	return out, nil
}
