// Package work provides the proof-of-work puzzle primitives shared by every
// node on the network: the digest over (nonce, root), the work value codec
// and the single-hash validator.
package work

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// RootSize is the length of a root (previous block hash or account public key)
	RootSize = 32
	// NonceSize is the length of a serialized nonce
	NonceSize = 8
	// DigestSize is the configured BLAKE2b output length
	DigestSize = 8
)

// ErrInvalidInputLength is returned when a root, nonce or threshold is not
// exactly its fixed byte length. Inputs are never truncated or padded.
var ErrInvalidInputLength = errors.New("invalid input length")

// HexCharError reports the first non-hexadecimal character of a hex string
type HexCharError struct {
	Pos  int
	Char byte
}

func (e *HexCharError) Error() string {
	return fmt.Sprintf("invalid character %q in hex string at position %d", e.Char, e.Pos)
}

// Root anchors one puzzle instance: a previous block hash or an account public key.
type Root [RootSize]byte

// RootFromBytes copies a 32-byte slice into a Root.
func RootFromBytes(b []byte) (Root, error) {
	var root Root
	if len(b) != RootSize {
		return root, fmt.Errorf("%w: root must be %d bytes, got %d", ErrInvalidInputLength, RootSize, len(b))
	}
	copy(root[:], b)
	return root, nil
}

// ParseRootHex parses a 64 character hex root. Both cases are accepted.
func ParseRootHex(s string) (Root, error) {
	var root Root
	if len(s) != RootSize*2 {
		return root, fmt.Errorf("%w: root hex must be %d characters, got %d", ErrInvalidInputLength, RootSize*2, len(s))
	}
	if err := decodeHex(root[:], s); err != nil {
		return root, err
	}
	return root, nil
}

// String renders the root as uppercase hex, the form used by node RPC.
func (r Root) String() string {
	return strings.ToUpper(fmt.Sprintf("%x", r[:]))
}

// IsZero reports whether every byte of the root is zero
func (r Root) IsZero() bool {
	return r == Root{}
}

// Nonce is the 8-byte search variable. Its numeric value is what the network
// prints as the "work" string; its serialized form (see Bytes) is what gets hashed.
type Nonce uint64

// NonceFromBytes reads a nonce from its serialized (hashed) layout.
func NonceFromBytes(b []byte) (Nonce, error) {
	if len(b) != NonceSize {
		return 0, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidInputLength, NonceSize, len(b))
	}
	var buf [NonceSize]byte
	copy(buf[:], b)
	return decodeNonce(buf), nil
}

// ParseNonceHex parses the 16 character work string, most significant digit first.
func ParseNonceHex(s string) (Nonce, error) {
	if len(s) != NonceSize*2 {
		return 0, fmt.Errorf("%w: work hex must be %d characters, got %d", ErrInvalidInputLength, NonceSize*2, len(s))
	}
	var buf [NonceSize]byte
	if err := decodeHex(buf[:], s); err != nil {
		return 0, err
	}
	var n uint64
	for _, b := range buf {
		n = n<<8 | uint64(b)
	}
	return Nonce(n), nil
}

// Bytes returns the serialized nonce exactly as it is fed to the digest.
func (n Nonce) Bytes() [NonceSize]byte {
	return encodeNonce(n)
}

// String renders the nonce as the 16 character lowercase work string.
func (n Nonce) String() string {
	return fmt.Sprintf("%016x", uint64(n))
}

func decodeHex(dst []byte, s string) error {
	for i := 0; i < len(dst); i++ {
		hi, ok := fromHexChar(s[2*i])
		if !ok {
			return &HexCharError{Pos: 2 * i, Char: s[2*i]}
		}
		lo, ok := fromHexChar(s[2*i+1])
		if !ok {
			return &HexCharError{Pos: 2*i + 1, Char: s[2*i+1]}
		}
		dst[i] = hi<<4 | lo
	}
	return nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
