package commitment

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the width in bytes of every digest produced by a Scheme.
const Size = 32

// ErrInvalidDigest is returned when text cannot be decoded into a Digest.
var ErrInvalidDigest = errors.New("commitment: invalid digest")

// Digest is a fixed-width commitment value. A hashlock is a Digest.
type Digest [Size]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Base58 returns the compact base58 form used by the CLI.
func (d Digest) Base58() string {
	return base58.Encode(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalText() ([]byte, error) {
	text := [len(d) * 2]byte{}
	n := hex.Encode(text[:], d[:])
	if n != len(text) {
		return nil, hex.ErrLength
	}
	return text[:], nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != len(d)*2 {
		return fmt.Errorf("unmarshaling digest: input length %d expected %d", len(text), len(d)*2)
	}
	n, err := hex.Decode(d[:], text)
	if err != nil {
		return fmt.Errorf("unmarshaling digest: %w", err)
	}
	if n != len(d) {
		return fmt.Errorf("unmarshaling digest: decoded length %d expected %d", n, len(d))
	}
	return nil
}

// ParseDigest accepts either the 64 character hex form or the base58 form.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) == Size*2 {
		if err := d.UnmarshalText([]byte(s)); err == nil {
			return d, nil
		}
	}
	b, err := base58.Decode(s)
	if err != nil || len(b) != Size {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	copy(d[:], b)
	return d, nil
}

// DigestFromBytes copies b into a Digest; b must be exactly Size bytes.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return Digest{}, fmt.Errorf("%w: length %d expected %d", ErrInvalidDigest, len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}
