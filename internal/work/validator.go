package work

// IsValid reports whether nonce solves the puzzle for root at threshold.
// It performs exactly one digest computation and one comparison, holds no
// shared state and is safe to call from any number of goroutines.
func IsValid(root Root, nonce Nonce, threshold uint64) bool {
	return WorkValue(root, nonce) >= threshold
}

// IsValid is the allocation-free variant used by search workers.
func (h *Hasher) IsValid(root Root, nonce Nonce, threshold uint64) bool {
	return h.WorkValue(root, nonce) >= threshold
}

// IsValidBytes validates raw root and nonce slices. The only error it returns
// is ErrInvalidInputLength; a well-formed but failing nonce yields false, nil.
func IsValidBytes(root, nonce []byte, threshold uint64) (bool, error) {
	r, err := RootFromBytes(root)
	if err != nil {
		return false, err
	}
	n, err := NonceFromBytes(nonce)
	if err != nil {
		return false, err
	}
	return IsValid(r, n, threshold), nil
}
