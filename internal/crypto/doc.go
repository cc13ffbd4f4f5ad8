// Package crypto provides the symmetric and key-wrapping primitives used by
// XML envelopes. Compact envelopes delegate both layers to go-jose.
//
// # Algorithm Suite
//
//   - AES-256-GCM: Authenticated encryption of the payload body. Each
//     envelope uses a fresh 256-bit content key and a fresh 96-bit nonce.
//
//   - RSA-OAEP (SHA-256, MGF1-SHA-256): Wrapping of the content key for the
//     recipient certificate's public key. Keys below 2048 bits are refused.
//
// Signatures are not produced here. The XML and compact envelope encodings
// each sign with the library that owns their wire format.
//
// # Critical Security Notes
//
// Signature verification MUST be performed BEFORE [UnwrapKey] or any
// decryption. Decrypting unauthenticated ciphertext may expose the system to
// chosen-ciphertext attacks.
//
// [UnwrapKey] and the AES decryption helpers report every failure as
// [ErrDecryptionFailed]. Do not add detail to that error: a caller able to
// distinguish a bad OAEP padding from a bad GCM tag has a decryption oracle.
//
// Content keys returned by [NewContentKey] and [UnwrapKey] must be cleared
// with [Wipe] on every exit path once they are no longer needed.
//
// # Base64 Encoding
//
//   - [ToBase64URL]/[FromBase64URL]: URL-safe base64 without padding (RFC 4648 §5).
//     Used for JOSE header values such as x5t#S256.
//
//   - [ToBase64]/[FromBase64]/[FromBase64XML]: Standard base64 with padding
//     (RFC 4648 §4). Used for XML CipherValue and certificate values.
package crypto
