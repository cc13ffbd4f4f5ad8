package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
)

// randReader is the random source for content keys, nonces and OAEP padding.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func random() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

// NewContentKey returns a fresh AES-256 content key. Callers own the returned
// slice and should Wipe it once the envelope is built.
func NewContentKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(random(), key); err != nil {
		return nil, fmt.Errorf("generate content key: %w", err)
	}
	return key, nil
}

// NewNonce returns a fresh 96-bit AES-GCM nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, AESNonceSize)
	if _, err := io.ReadFull(random(), nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// WrapKey encrypts a content key for pub using RSA-OAEP with SHA-256 for
// both the label hash and MGF1.
func WrapKey(pub *rsa.PublicKey, contentKey []byte) ([]byte, error) {
	if pub == nil || pub.N == nil || pub.N.BitLen() < MinRSAKeyBits {
		return nil, ErrInvalidPublicKey
	}
	if len(contentKey) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(contentKey), AESKeySize)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), random(), pub, contentKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap content key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey recovers a content key wrapped by WrapKey. Every failure,
// including a correctly unwrapped key of the wrong length, is reported as
// ErrDecryptionFailed.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrDecryptionFailed
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(key) != AESKeySize {
		Wipe(key)
		return nil, ErrDecryptionFailed
	}
	return key, nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	clear(b)
}
