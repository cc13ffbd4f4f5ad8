package crypto

import "errors"

var (
	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrCiphertextTooShort is returned when a ciphertext cannot hold a
	// nonce and an authentication tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed is returned when decryption fails. It is used for
	// both AES-GCM authentication failures and RSA-OAEP unwrap failures so
	// callers cannot tell the two apart.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidPublicKey is returned when a key-wrap public key is nil or
	// below MinRSAKeyBits.
	ErrInvalidPublicKey = errors.New("invalid RSA public key")
)
