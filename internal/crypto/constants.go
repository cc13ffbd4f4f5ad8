package crypto

const (
	// AESKeySize is the size of an AES-256 content key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// MinRSAKeyBits is the smallest RSA modulus accepted for key wrapping
	// and signing.
	MinRSAKeyBits = 2048
)
