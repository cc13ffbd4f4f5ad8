package envelope

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrInvalidArgument is returned when a required input is nil or empty.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWeakAlgorithm is returned when a certificate is itself signed with a
	// broken digest (SHA-1, MD5, MD2).
	ErrWeakAlgorithm = errors.New("certificate signed with a weak algorithm")

	// ErrUnsupportedKeyType is returned when a certificate does not carry an
	// RSA public key.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrKeyTooWeak is returned when an RSA modulus is below 2048 bits.
	ErrKeyTooWeak = errors.New("key too weak")

	// ErrMissingPrivateKey is returned when an identity used for signing or
	// decrypting has no usable private key.
	ErrMissingPrivateKey = errors.New("missing private key")

	// ErrMalformedEnvelope is returned when an envelope does not have the
	// expected structure.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrScopeMismatch is returned when a signature does not cover the whole
	// encrypted body.
	ErrScopeMismatch = errors.New("signature scope does not cover the whole envelope")

	// ErrNoMatchingKey is returned when none of the decryption candidates
	// matches the envelope's recipient.
	ErrNoMatchingKey = errors.New("no matching decryption key")

	// ErrDecryptionFailed is returned when the content key or the payload
	// cannot be decrypted.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EnvelopeError is implemented by all typed errors in this package.
type EnvelopeError interface {
	error
	EnvelopeError() // marker method
}

// Role names the part an identity plays in a policy check.
type Role string

const (
	RoleRecipient Role = "recipient"
	RoleSigner    Role = "signer"
	RoleVerifier  Role = "signer (embedded)"
	RoleDecryptor Role = "decryption candidate"
)

// PolicyError reports a certificate rejected by the policy validator. It
// names the certificate but never carries key material.
type PolicyError struct {
	Role        Role
	Subject     string
	Fingerprint Fingerprint
	Reason      string
	Err         error // one of the policy sentinels
}

func (e *PolicyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s certificate %q (%s) rejected: %v: %s", e.Role, e.Subject, e.Fingerprint, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s certificate %q (%s) rejected: %v", e.Role, e.Subject, e.Fingerprint, e.Err)
}

// Unwrap returns the policy sentinel.
func (e *PolicyError) Unwrap() error {
	return e.Err
}

// EnvelopeError implements the EnvelopeError interface.
func (e *PolicyError) EnvelopeError() {}

// MalformedError describes why an envelope could not be parsed.
type MalformedError struct {
	Format Format
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s envelope: %s", e.Format, e.Reason)
}

// Is implements errors.Is for sentinel error matching.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

// EnvelopeError implements the EnvelopeError interface.
func (e *MalformedError) EnvelopeError() {}

// ScopeError describes a signature whose declared coverage is not the whole
// encrypted body.
type ScopeError struct {
	Format Format
	Reason string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s envelope: %s", e.Format, e.Reason)
}

// Is implements errors.Is for sentinel error matching.
func (e *ScopeError) Is(target error) bool {
	return target == ErrScopeMismatch
}

// EnvelopeError implements the EnvelopeError interface.
func (e *ScopeError) EnvelopeError() {}

func malformed(f Format, msg string, args ...any) error {
	return &MalformedError{Format: f, Reason: fmt.Sprintf(msg, args...)}
}

func scopeMismatch(f Format, reason string) error {
	return &ScopeError{Format: f, Reason: reason}
}

func invalidArgument(what string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, what)
}

// wrapCryptoError collapses every failure on the decryption path into the
// public sentinel. Sizes and causes are dropped so wrong-key, corrupted and
// truncated inputs look the same to the caller.
func wrapCryptoError(err error) error {
	if err == nil {
		return nil
	}
	return ErrDecryptionFailed
}
