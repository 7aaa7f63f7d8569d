// Package commitment implements the hashlock primitive: committing to a secret
// with a fixed-width digest and verifying a revealed secret against it.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// SecretSize is the length of secrets produced by NewSecret.
const SecretSize = 32

// Scheme is a deterministic, collision-resistant hash with a Size-byte output.
type Scheme struct {
	name string
	sum  func([]byte) [Size]byte
}

var (
	// SHA256 is the default scheme and matches Lightning payment hashes.
	SHA256 = Scheme{name: "sha256", sum: sha256.Sum256}
	// SHA3_256 is FIPS 202 SHA3-256.
	SHA3_256 = Scheme{name: "sha3-256", sum: sha3.Sum256}
	// BLAKE2b256 is BLAKE2b with a 256 bit digest.
	BLAKE2b256 = Scheme{name: "blake2b-256", sum: blake2b.Sum256}
)

var schemes = map[string]Scheme{
	SHA256.name:     SHA256,
	SHA3_256.name:   SHA3_256,
	BLAKE2b256.name: BLAKE2b256,
}

// SchemeByName resolves a configured scheme name. The empty name selects SHA256.
func SchemeByName(name string) (Scheme, error) {
	if name == "" {
		return SHA256, nil
	}
	s, ok := schemes[name]
	if !ok {
		return Scheme{}, fmt.Errorf("commitment: unknown scheme %q", name)
	}
	return s, nil
}

func (s Scheme) Name() string {
	return s.name
}

// Commit returns the digest of secret.
func (s Scheme) Commit(secret []byte) Digest {
	return Digest(s.sum(secret))
}

// Verify reports whether secret commits to hashlock. The comparison always
// inspects every byte of the digest.
func (s Scheme) Verify(secret []byte, hashlock Digest) bool {
	got := s.Commit(secret)
	return subtle.ConstantTimeCompare(got[:], hashlock[:]) == 1
}

// NewSecret returns SecretSize bytes from crypto/rand.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("commitment: read random secret: %w", err)
	}
	return secret, nil
}
