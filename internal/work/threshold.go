package work

import (
	"fmt"
	"math"
	"strconv"
)

// Network threshold constants. The core accepts any 64-bit threshold; these are
// provided so callers select a policy by name instead of by literal.
const (
	// ThresholdLegacy applied to every block kind before the epoch 2 upgrade
	ThresholdLegacy uint64 = 0xffffffc000000000
	// ThresholdSend applies to send and change blocks
	ThresholdSend uint64 = 0xfffffff800000000
	// ThresholdReceive applies to receive, open and epoch blocks
	ThresholdReceive uint64 = 0xfffffe0000000000
)

// ParseThresholdHex parses a 16 digit hex threshold as printed by node RPC
// (most significant digit first), e.g. "fffffff800000000".
func ParseThresholdHex(s string) (uint64, error) {
	if len(s) != DigestSize*2 {
		return 0, fmt.Errorf("%w: threshold hex must be %d characters, got %d", ErrInvalidInputLength, DigestSize*2, len(s))
	}
	for i := 0; i < len(s); i++ {
		if _, ok := fromHexChar(s[i]); !ok {
			return 0, &HexCharError{Pos: i, Char: s[i]}
		}
	}
	return strconv.ParseUint(s, 16, 64)
}

// FormatThreshold is the inverse of ParseThresholdHex.
func FormatThreshold(threshold uint64) string {
	return fmt.Sprintf("%016x", threshold)
}

// Multiplier expresses value relative to base the way nodes report work
// difficulty: (2^64 - base) / (2^64 - value). Values above base yield a
// multiplier greater than 1.
func Multiplier(value, base uint64) float64 {
	return distance(base) / distance(value)
}

// FromMultiplier returns the threshold that is multiplier times harder than base.
func FromMultiplier(multiplier float64, base uint64) uint64 {
	if multiplier <= 0 {
		return 0
	}
	d := distance(base) / multiplier
	if d >= math.MaxUint64 {
		return 0
	}
	if d < 1 {
		return math.MaxUint64
	}
	return -uint64(d)
}

// distance returns 2^64 - v as a float64. v == 0 maps to 2^64.
func distance(v uint64) float64 {
	if v == 0 {
		return math.Exp2(64)
	}
	return float64(-v)
}
