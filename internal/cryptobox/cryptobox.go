// Package cryptobox implements AES-256-GCM block encryption (stdlib
// crypto/aes plus crypto/cipher).
//
// GCM never tolerates a repeated (key, nonce) pair: the same block is
// rewritten in place whenever a write still fits its existing allocation,
// and vacuum relocates sealed blocks to new offsets, so a nonce derived
// from the block's offset can both repeat (in-place rewrite) and go stale
// (relocation). Seal instead draws a fresh random nonce per call from
// crypto/rand and stores it alongside the ciphertext it protects; Open
// reads the nonce back out of the blob it's given. The file's NonceSeed is
// still mixed in so a key/seed pair never produces the same nonce stream
// as another file sharing a PRNG defect.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/scdb-go/scdb/internal/scdberr"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// NonceSeedSize matches format.Header's NonceSeed field and the GCM nonce
// length.
const NonceSeedSize = 12

// Box encrypts and decrypts block payloads with one fixed key and seed.
type Box struct {
	gcm  cipher.AEAD
	seed [NonceSeedSize]byte
}

// New constructs a Box from a 32-byte key and the file's 12-byte nonce
// seed. ErrEncryptionKeyMissing is returned if key is not exactly 32 bytes.
func New(key []byte, seed [NonceSeedSize]byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: key must be %d bytes, got %d: %w", KeySize, len(key), scdberr.ErrEncryptionKeyMissing)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: failed to create GCM: %w", err)
	}
	if gcm.NonceSize() != NonceSeedSize {
		return nil, fmt.Errorf("cryptobox: unexpected GCM nonce size %d", gcm.NonceSize())
	}

	return &Box{gcm: gcm, seed: seed}, nil
}

// Seal encrypts plaintext, returning a blob with a fresh random nonce
// prepended to the ciphertext and authentication tag: every call, even two
// calls for the same block, gets its own nonce, so the result is safe to
// write to any offset including one that held a prior sealed blob.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSeedSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("cryptobox: failed to generate nonce: %w", err)
	}
	for i := range nonce {
		nonce[i] ^= b.seed[i]
	}

	out := make([]byte, NonceSeedSize, NonceSeedSize+len(plaintext)+b.gcm.Overhead())
	copy(out, nonce[:])
	return b.gcm.Seal(out, nonce[:], plaintext, nil), nil
}

// Open decrypts and authenticates a blob previously produced by Seal,
// reading its nonce back out of the blob's prefix.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) < NonceSeedSize {
		return nil, fmt.Errorf("cryptobox: blob too short for nonce: %w", scdberr.ErrDecryptionFailed)
	}
	nonce, ciphertext := blob[:NonceSeedSize], blob[NonceSeedSize:]
	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", scdberr.ErrDecryptionFailed)
	}
	return plaintext, nil
}

// Overhead returns the number of extra bytes Seal appends on top of the
// plaintext length: the GCM tag plus the stored nonce prefix.
func (b *Box) Overhead() int {
	return b.gcm.Overhead() + NonceSeedSize
}
