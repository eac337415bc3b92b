package work

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/blake2b"
)

const referenceRootHex = "8D3E5F07BFF7B7484CDCB392F47009F62997253D28BD98B94BCED95F03C4DA09"

func mustRoot(t testing.TB, s string) Root {
	t.Helper()
	root, err := ParseRootHex(s)
	if err != nil {
		t.Fatalf("ParseRootHex(%q) unexpected error: %v", s, err)
	}
	return root
}

func mustNonce(t testing.TB, s string) Nonce {
	t.Helper()
	n, err := ParseNonceHex(s)
	if err != nil {
		t.Fatalf("ParseNonceHex(%q) unexpected error: %v", s, err)
	}
	return n
}

func TestDigest_ReferenceVectors(t *testing.T) {
	tests := []struct {
		name  string
		root  string
		nonce string
		want  [DigestSize]byte
	}{
		{
			name:  "zero root zero nonce",
			root:  "0000000000000000000000000000000000000000000000000000000000000000",
			nonce: "0000000000000000",
			want:  [DigestSize]byte{0x65, 0x49, 0xd1, 0xf7, 0x25, 0xba, 0x0f, 0xd6},
		},
		{
			name:  "network reference work",
			root:  referenceRootHex,
			nonce: "4effb6b0cd5625e2",
			want:  [DigestSize]byte{0xbc, 0x8d, 0x41, 0xff, 0xf5, 0xff, 0xff, 0xff},
		},
		{
			name:  "network reference bad work",
			root:  referenceRootHex,
			nonce: "4effc680cd5625e2",
			want:  [DigestSize]byte{0xef, 0x6b, 0x45, 0xce, 0xca, 0x31, 0x9e, 0xf4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Digest(mustNonce(t, tt.nonce), mustRoot(t, tt.root))
			if got != tt.want {
				t.Errorf("Digest() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestDigest_IsParameterizedNotTruncated(t *testing.T) {
	var root Root
	nonce := Nonce(0)
	nb := nonce.Bytes()

	full := blake2b.Sum512(append(nb[:], root[:]...))
	got := Digest(nonce, root)

	if string(got[:]) == string(full[:DigestSize]) {
		t.Error("Digest() equals a truncated 64-byte BLAKE2b; digest length must be a hash parameter")
	}
}

func TestIsValid_ReferenceVectors(t *testing.T) {
	root := mustRoot(t, referenceRootHex)

	tests := []struct {
		name      string
		nonce     string
		threshold uint64
		want      bool
	}{
		{"good work at legacy threshold", "4effb6b0cd5625e2", ThresholdLegacy, true},
		{"good work at send threshold", "4effb6b0cd5625e2", ThresholdSend, false},
		{"good work at receive threshold", "4effb6b0cd5625e2", ThresholdReceive, true},
		{"bad work at legacy threshold", "4effc680cd5625e2", ThresholdLegacy, false},
		{"bad work accepts everything", "4effc680cd5625e2", 0, true},
		{"exact work value is accepted", "4effb6b0cd5625e2", 0xfffffff5ff418dbc, true},
		{"one above work value is rejected", "4effb6b0cd5625e2", 0xfffffff5ff418dbd, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(root, mustNonce(t, tt.nonce), tt.threshold); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValid_ZeroRootZeroThreshold(t *testing.T) {
	if !IsValid(Root{}, 0, 0) {
		t.Error("IsValid(zero root, nonce 0, threshold 0) = false, want true")
	}
}

func TestIsValid_SingleBitFlip(t *testing.T) {
	root := mustRoot(t, referenceRootHex)
	valid := mustNonce(t, "4effb6b0cd5625e2")

	accepted := 0
	for bit := 0; bit < 64; bit++ {
		if IsValid(root, valid^Nonce(1)<<bit, ThresholdLegacy) {
			accepted++
		}
	}

	// Each flipped nonce passes with probability about 2^-26.
	if accepted > 0 {
		t.Errorf("%d of 64 single-bit mutations still validated", accepted)
	}
}

func TestIsValid_Deterministic(t *testing.T) {
	root := mustRoot(t, referenceRootHex)
	nonce := mustNonce(t, "4effb6b0cd5625e2")
	want := IsValid(root, nonce, ThresholdLegacy)

	var wg sync.WaitGroup
	results := make(chan bool, 64)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- IsValid(root, nonce, ThresholdLegacy)
		}()
	}
	wg.Wait()
	close(results)

	for got := range results {
		if got != want {
			t.Fatalf("IsValid() returned %v, previously %v", got, want)
		}
	}
}

func TestHasher_MatchesStateless(t *testing.T) {
	h := NewHasher()
	root := mustRoot(t, referenceRootHex)

	for n := Nonce(0); n < 256; n++ {
		if got, want := h.WorkValue(root, n), WorkValue(root, n); got != want {
			t.Fatalf("Hasher.WorkValue(%s) = %#x, want %#x", n, got, want)
		}
	}
}

func TestIsValidBytes(t *testing.T) {
	root := mustRoot(t, referenceRootHex)
	nonce := mustNonce(t, "4effb6b0cd5625e2").Bytes()

	tests := []struct {
		name    string
		root    []byte
		nonce   []byte
		want    bool
		wantErr bool
	}{
		{"valid", root[:], nonce[:], true, false},
		{"short root", root[:31], nonce[:], false, true},
		{"long root", append(root[:], 0), nonce[:], false, true},
		{"short nonce", root[:], nonce[:7], false, true},
		{"empty nonce", root[:], nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsValidBytes(tt.root, tt.nonce, ThresholdLegacy)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInputLength) {
					t.Errorf("IsValidBytes() error = %v, want ErrInvalidInputLength", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IsValidBytes() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsValidBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDigestBytes_InvalidLength(t *testing.T) {
	if _, err := DigestBytes(make([]byte, 8), make([]byte, 33)); !errors.Is(err, ErrInvalidInputLength) {
		t.Errorf("DigestBytes() error = %v, want ErrInvalidInputLength", err)
	}
	if _, err := DigestBytes(make([]byte, 9), make([]byte, 32)); !errors.Is(err, ErrInvalidInputLength) {
		t.Errorf("DigestBytes() error = %v, want ErrInvalidInputLength", err)
	}
}
