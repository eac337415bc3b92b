package work

import (
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes work digests. The BLAKE2b state is created with a digest
// length parameter of DigestSize, so the output is a parameterized 8-byte
// digest rather than a truncated 64-byte one.
//
// A Hasher is not safe for concurrent use; search workers keep one each so the
// inner loop reuses a single hash state.
type Hasher struct {
	h hash.Hash
}

// NewHasher creates a Hasher ready for use.
func NewHasher() *Hasher {
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		// blake2b.New only fails for sizes outside 1..64 or keys over 64 bytes
		panic("work: blake2b.New: " + err.Error())
	}
	return &Hasher{h: h}
}

// Sum returns BLAKE2b-64(nonce bytes || root).
func (h *Hasher) Sum(nonce Nonce, root Root) [DigestSize]byte {
	nb := encodeNonce(nonce)

	h.h.Reset()
	h.h.Write(nb[:])
	h.h.Write(root[:])

	var out [DigestSize]byte
	h.h.Sum(out[:0])
	return out
}

// WorkValue returns the decoded work value of (nonce, root).
func (h *Hasher) WorkValue(root Root, nonce Nonce) uint64 {
	return Decode(h.Sum(nonce, root))
}

// Digest is the stateless form of Hasher.Sum.
func Digest(nonce Nonce, root Root) [DigestSize]byte {
	return NewHasher().Sum(nonce, root)
}

// DigestBytes validates slice lengths before computing the digest.
func DigestBytes(nonce, root []byte) ([DigestSize]byte, error) {
	n, err := NonceFromBytes(nonce)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	r, err := RootFromBytes(root)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	return Digest(n, r), nil
}

// WorkValue returns Decode(Digest(nonce, root)).
func WorkValue(root Root, nonce Nonce) uint64 {
	return Decode(Digest(nonce, root))
}
