package cryptobox

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(testKey(), [NonceSeedSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plaintext := []byte("hello, block")
	ciphertext, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	got, err := box.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

// TestSealNeverReusesNonceAcrossCalls guards against the nonce-reuse defect a
// purely offset-derived nonce had: two seals of different plaintexts, even
// at what would be the same block offset, must never share a nonce.
func TestSealNeverReusesNonceAcrossCalls(t *testing.T) {
	box, err := New(testKey(), [NonceSeedSize]byte{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first, err := box.Seal([]byte("first plaintext, same logical block"))
	if err != nil {
		t.Fatalf("Seal(first) failed: %v", err)
	}
	second, err := box.Seal([]byte("second, smaller"))
	if err != nil {
		t.Fatalf("Seal(second) failed: %v", err)
	}

	if bytes.Equal(first[:NonceSeedSize], second[:NonceSeedSize]) {
		t.Fatalf("expected distinct nonces across separate Seal calls, got matching prefixes")
	}

	// Both must still open correctly on their own, independent of the
	// order they were produced in or where the caller writes them.
	if _, err := box.Open(first); err != nil {
		t.Fatalf("Open(first) failed: %v", err)
	}
	if _, err := box.Open(second); err != nil {
		t.Fatalf("Open(second) failed: %v", err)
	}
}

// TestOpenSurvivesRelocation mirrors what vacuum does: move a sealed blob
// verbatim to a different logical offset and confirm it still decrypts.
// Since the nonce now travels with the ciphertext instead of being
// rederived from the block's offset, relocation cannot desynchronize it.
func TestOpenSurvivesRelocation(t *testing.T) {
	box, err := New(testKey(), [NonceSeedSize]byte{9, 9, 9})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plaintext := []byte("relocated by vacuum")
	sealed, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	relocated := make([]byte, len(sealed))
	copy(relocated, sealed)

	got, err := box.Open(relocated)
	if err != nil {
		t.Fatalf("Open after simulated relocation failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("relocated blob decrypted to wrong plaintext: %q", got)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	box, err := New(testKey(), [NonceSeedSize]byte{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sealed, err := box.Seal([]byte("data"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	tampered := make([]byte, len(sealed))
	copy(tampered, sealed)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := box.Open(tampered); err == nil {
		t.Fatalf("expected decryption to fail on tampered ciphertext")
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	box, err := New(testKey(), [NonceSeedSize]byte{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := box.Open([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for a blob shorter than the nonce")
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("too short"), [NonceSeedSize]byte{}); err == nil {
		t.Fatalf("expected error for short key")
	}
}
