package work

import (
	"encoding/binary"
	"fmt"
)

// Byte-order conventions of the network live in this file and nowhere else.
//
// Nonces are serialized least significant byte first before hashing. Digests
// are read as integers in the reverse of their output order: digest byte 0 is
// the least significant byte of the work value and digest byte 7 the most
// significant. Threshold constants use the same little-endian canonical form.

// Decode converts a raw digest into its work value.
func Decode(digest [DigestSize]byte) uint64 {
	return binary.LittleEndian.Uint64(digest[:])
}

// Encode is the exact inverse of Decode.
func Encode(value uint64) [DigestSize]byte {
	var digest [DigestSize]byte
	binary.LittleEndian.PutUint64(digest[:], value)
	return digest
}

// ThresholdFromCanonical decodes an externally supplied 8-byte threshold constant.
func ThresholdFromCanonical(b []byte) (uint64, error) {
	if len(b) != DigestSize {
		return 0, fmt.Errorf("%w: threshold must be %d bytes, got %d", ErrInvalidInputLength, DigestSize, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ThresholdToCanonical is the inverse of ThresholdFromCanonical.
func ThresholdToCanonical(threshold uint64) [DigestSize]byte {
	return Encode(threshold)
}

func encodeNonce(n Nonce) [NonceSize]byte {
	var b [NonceSize]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b
}

func decodeNonce(b [NonceSize]byte) Nonce {
	return Nonce(binary.LittleEndian.Uint64(b[:]))
}
