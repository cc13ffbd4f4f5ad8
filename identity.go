package envelope

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Fingerprint is the SHA-256 digest of a certificate's DER encoding. It is
// the only attribute used to match a decryption candidate to an envelope's
// recipient.
type Fingerprint [sha256.Size]byte

// FingerprintOf returns the fingerprint of a DER-encoded certificate.
func FingerprintOf(der []byte) Fingerprint {
	return sha256.Sum256(der)
}

// String renders the fingerprint as upper-case hex.
func (f Fingerprint) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// PublicIdentity is a certificate used for encrypting to a recipient or for
// verifying a signer. It never carries private key material.
type PublicIdentity struct {
	cert        *x509.Certificate
	fingerprint Fingerprint
}

// NewPublicIdentity wraps cert. It fails with ErrInvalidArgument when cert is
// nil or has no raw DER bytes.
func NewPublicIdentity(cert *x509.Certificate) (*PublicIdentity, error) {
	if cert == nil || len(cert.Raw) == 0 {
		return nil, invalidArgument("certificate is required")
	}
	return &PublicIdentity{cert: cert, fingerprint: FingerprintOf(cert.Raw)}, nil
}

// ParsePublicIdentity parses a DER-encoded certificate.
func ParsePublicIdentity(der []byte) (*PublicIdentity, error) {
	if len(der) == 0 {
		return nil, invalidArgument("certificate is required")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, invalidArgument("parse certificate: " + err.Error())
	}
	return NewPublicIdentity(cert)
}

// Certificate returns the underlying certificate.
func (p *PublicIdentity) Certificate() *x509.Certificate {
	return p.cert
}

// Fingerprint returns the SHA-256 fingerprint of the certificate.
func (p *PublicIdentity) Fingerprint() Fingerprint {
	return p.fingerprint
}

// Subject returns the certificate subject in RFC 2253 form.
func (p *PublicIdentity) Subject() string {
	return p.cert.Subject.String()
}

// Equal reports whether both identities refer to the same certificate.
func (p *PublicIdentity) Equal(other *PublicIdentity) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.fingerprint == other.fingerprint
}

func (p *PublicIdentity) rsaPublicKey() (*rsa.PublicKey, bool) {
	pub, ok := p.cert.PublicKey.(*rsa.PublicKey)
	return pub, ok
}

// PrivateIdentity is a certificate together with its private key, used for
// signing outbound envelopes and decrypting inbound ones.
//
// Construction does not check the key; ValidateForSigningOrDecryption does,
// before every operation that needs it.
type PrivateIdentity struct {
	PublicIdentity
	key crypto.PrivateKey
}

// NewPrivateIdentity pairs cert with key.
func NewPrivateIdentity(cert *x509.Certificate, key crypto.PrivateKey) (*PrivateIdentity, error) {
	pub, err := NewPublicIdentity(cert)
	if err != nil {
		return nil, err
	}
	return &PrivateIdentity{PublicIdentity: *pub, key: key}, nil
}

// Public returns the public view of the identity.
func (p *PrivateIdentity) Public() *PublicIdentity {
	pub := p.PublicIdentity
	return &pub
}

// rsaPrivateKey returns the private key when it is RSA and matches the
// certificate's public key.
func (p *PrivateIdentity) rsaPrivateKey() (*rsa.PrivateKey, bool) {
	priv, ok := p.key.(*rsa.PrivateKey)
	if !ok || priv == nil {
		return nil, false
	}
	pub, ok := p.rsaPublicKey()
	if !ok {
		return nil, false
	}
	return priv, priv.PublicKey.Equal(pub)
}
