package envelope

import (
	"crypto/rsa"
	"crypto/x509"
)

// Codec is one wire encoding of the envelope protocol. Seal encrypts and
// then signs; Parse only checks structure and defers every cryptographic
// decision to the returned Sealed value so the engine controls ordering.
//
// Codecs must be safe for concurrent use.
type Codec interface {
	// Format names the encoding.
	Format() Format

	// Seal encrypts payload for recipient and signs the result with signer.
	// Both identities have already passed the policy gates.
	Seal(payload []byte, recipient *PublicIdentity, signer *PrivateIdentity) ([]byte, error)

	// Parse splits an envelope into its layers. It fails with
	// ErrMalformedEnvelope when the outer shape is wrong.
	Parse(envelope []byte) (Sealed, error)
}

// Sealed is a parsed, not yet verified envelope.
type Sealed interface {
	// Signer returns the embedded signer certificate.
	Signer() *x509.Certificate

	// CheckScope fails with ErrScopeMismatch unless the signature is
	// declared over the whole encryption layer.
	CheckScope() error

	// VerifySignature fails with ErrSignatureInvalid unless the signature
	// over the encryption layer verifies under the embedded signer key.
	VerifySignature() error

	// Recipient returns the fingerprint of the recipient certificate
	// referenced by the encryption layer. The encryption layer is only
	// read once VerifySignature has succeeded; before that Recipient fails
	// with ErrSignatureInvalid.
	Recipient() (Fingerprint, error)

	// Decrypt unwraps the content key with key and decrypts the payload.
	// Every failure is ErrDecryptionFailed.
	Decrypt(key *rsa.PrivateKey) ([]byte, error)
}

// Opened is the result of a successful Open.
type Opened struct {
	// Payload is the decrypted payload.
	Payload []byte
	// Signer is the identity that signed the envelope. It has passed the
	// verification policy gate but no trust-chain validation.
	Signer *PublicIdentity
	// Recipient is the candidate whose key decrypted the envelope.
	Recipient *PrivateIdentity
}

// Engine seals and opens envelopes with one codec. An Engine holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	codec Codec
}

// New creates an engine. Without options it uses the compact encoding.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{format: defaultFormat}
	for _, opt := range opts {
		opt(cfg)
	}

	codec := cfg.codec
	if codec == nil {
		var err error
		if codec, err = codecFor(cfg.format); err != nil {
			return nil, err
		}
	}
	return &Engine{codec: codec}, nil
}

// Format returns the wire encoding the engine produces and accepts.
func (e *Engine) Format() Format {
	return e.codec.Format()
}

// Seal encrypts payload for recipient, then signs the encrypted layer with
// signer. Both identities pass their policy gates before any cryptography
// runs; on failure nothing is returned.
func (e *Engine) Seal(payload []byte, recipient *PublicIdentity, signer *PrivateIdentity) ([]byte, error) {
	if len(payload) == 0 {
		return nil, invalidArgument("payload is required")
	}
	if err := validatePublic(recipient, RoleRecipient); err != nil {
		return nil, err
	}
	if err := validatePrivate(signer, RoleSigner); err != nil {
		return nil, err
	}

	return e.codec.Seal(payload, recipient, signer)
}

// Open verifies the envelope's signature and decrypts it with the matching
// candidate. Every non-nil candidate passes the decryption gate before the
// envelope is parsed.
func (e *Engine) Open(envelope []byte, candidates []*PrivateIdentity) (*Opened, error) {
	if len(envelope) == 0 {
		return nil, invalidArgument("envelope is required")
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if err := validatePrivate(c, RoleDecryptor); err != nil {
			return nil, err
		}
	}

	sealed, signer, err := e.verify(envelope)
	if err != nil {
		return nil, err
	}

	target, err := sealed.Recipient()
	if err != nil {
		return nil, err
	}
	recipient, err := SelectDecryptionIdentity(candidates, target)
	if err != nil {
		return nil, err
	}
	key, _ := recipient.rsaPrivateKey()

	payload, err := sealed.Decrypt(key)
	if err != nil {
		return nil, err
	}

	return &Opened{Payload: payload, Signer: signer, Recipient: recipient}, nil
}

// Verify checks structure, signer policy, signature scope and signature, and
// returns the signer without decrypting anything.
func (e *Engine) Verify(envelope []byte) (*PublicIdentity, error) {
	if len(envelope) == 0 {
		return nil, invalidArgument("envelope is required")
	}
	_, signer, err := e.verify(envelope)
	return signer, err
}

func (e *Engine) verify(envelope []byte) (Sealed, *PublicIdentity, error) {
	sealed, err := e.codec.Parse(envelope)
	if err != nil {
		return nil, nil, err
	}

	signer, err := NewPublicIdentity(sealed.Signer())
	if err != nil {
		return nil, nil, malformed(e.codec.Format(), "signer certificate missing")
	}
	if err := validatePublic(signer, RoleVerifier); err != nil {
		return nil, nil, err
	}

	if err := sealed.CheckScope(); err != nil {
		return nil, nil, err
	}
	if err := sealed.VerifySignature(); err != nil {
		return nil, nil, err
	}
	return sealed, signer, nil
}
