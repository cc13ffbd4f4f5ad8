package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/vaultsandbox/envelope-go/internal/crypto"
)

const (
	// CompactEncryptedType is the typ header of the inner JWE.
	CompactEncryptedType = "envelope+jwe"
	// CompactSignedType is the typ header of the outer JWS.
	CompactSignedType = "envelope+jws"

	jweKeyAlgorithm     = jose.RSA_OAEP_256
	jweContentAlgorithm = jose.A256GCM

	// RS512 is RSASSA-PKCS1-v1_5 with SHA-512.
	jwsSignatureAlgorithm = jose.RS512

	headerX5C     jose.HeaderKey = "x5c"
	headerX5TS256 jose.HeaderKey = "x5t#S256"
	headerCrit    jose.HeaderKey = "crit"
	headerB64     jose.HeaderKey = "b64"
)

// CompactCodec encodes envelopes as a JWS compact token (RS512) whose payload
// is the complete compact serialization of a JWE (RSA-OAEP-256, A256GCM).
// Both tokens embed their certificate as a single-element x5c header.
type CompactCodec struct{}

// NewCompactCodec returns the compact codec.
func NewCompactCodec() *CompactCodec {
	return &CompactCodec{}
}

// Format implements Codec.
func (c *CompactCodec) Format() Format {
	return FormatCompact
}

// Seal implements Codec.
func (c *CompactCodec) Seal(payload []byte, recipient *PublicIdentity, signer *PrivateIdentity) ([]byte, error) {
	inner, err := c.encrypt(payload, recipient)
	if err != nil {
		return nil, err
	}

	outer, err := c.sign(inner, signer)
	if err != nil {
		return nil, err
	}
	return []byte(outer), nil
}

func (c *CompactCodec) encrypt(payload []byte, recipient *PublicIdentity) (string, error) {
	pub, ok := recipient.rsaPublicKey()
	if !ok {
		return "", ErrUnsupportedKeyType
	}

	fp := recipient.Fingerprint()
	opts := (&jose.EncrypterOptions{}).
		WithType(CompactEncryptedType).
		WithHeader(headerX5C, []string{crypto.ToBase64(recipient.cert.Raw)}).
		WithHeader(headerX5TS256, crypto.ToBase64URL(fp[:]))

	enc, err := jose.NewEncrypter(jweContentAlgorithm, jose.Recipient{Algorithm: jweKeyAlgorithm, Key: pub}, opts)
	if err != nil {
		return "", fmt.Errorf("create encrypter: %w", err)
	}
	jwe, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	return jwe.CompactSerialize()
}

func (c *CompactCodec) sign(inner string, signer *PrivateIdentity) (string, error) {
	key, ok := signer.rsaPrivateKey()
	if !ok {
		return "", ErrMissingPrivateKey
	}

	opts := (&jose.SignerOptions{}).
		WithType(CompactSignedType).
		WithContentType(CompactEncryptedType).
		WithHeader(headerX5C, []string{crypto.ToBase64(signer.cert.Raw)})

	s, err := jose.NewSigner(jose.SigningKey{Algorithm: jwsSignatureAlgorithm, Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	jws, err := s.Sign([]byte(inner))
	if err != nil {
		return "", fmt.Errorf("sign envelope: %w", err)
	}
	return jws.CompactSerialize()
}

// Parse implements Codec.
func (c *CompactCodec) Parse(envelope []byte) (Sealed, error) {
	token := strings.TrimSpace(string(envelope))
	parts := strings.Split(token, ".")
	switch len(parts) {
	case 3:
	case 5:
		return nil, malformed(FormatCompact, "token is an unsigned JWE")
	default:
		return nil, malformed(FormatCompact, "expected 3 segments, got %d", len(parts))
	}

	jws, err := jose.ParseSignedCompact(token, []jose.SignatureAlgorithm{jwsSignatureAlgorithm})
	if err != nil {
		return nil, malformed(FormatCompact, "signature token: %v", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, malformed(FormatCompact, "expected one signature, got %d", len(jws.Signatures))
	}
	protected := jws.Signatures[0].Protected
	if headerString(protected, jose.HeaderType) != CompactSignedType {
		return nil, malformed(FormatCompact, "signature header typ is not %q", CompactSignedType)
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return nil, malformed(FormatCompact, "signature header: %v", err)
	}
	signer, err := header.certificate()
	if err != nil {
		return nil, malformed(FormatCompact, "signature header: %v", err)
	}

	return &compactSealed{parts: parts, jws: jws, protected: protected, signer: signer}, nil
}

// compactSealed is a parsed JWS. The inner JWE is only parsed after the
// outer signature verifies.
type compactSealed struct {
	parts     []string
	jws       *jose.JSONWebSignature
	protected jose.Header
	signer    *x509.Certificate

	inner     *jose.JSONWebEncryption
	recipient Fingerprint
}

func (s *compactSealed) Signer() *x509.Certificate {
	return s.signer
}

func (s *compactSealed) CheckScope() error {
	// Detached and unencoded payloads (RFC 7797) sign something other than
	// the payload segment.
	if _, ok := s.protected.ExtraHeaders[headerCrit]; ok {
		return scopeMismatch(FormatCompact, "critical header extensions are not accepted")
	}
	if _, ok := s.protected.ExtraHeaders[headerB64]; ok {
		return scopeMismatch(FormatCompact, "unencoded payload option is not accepted")
	}
	if s.parts[1] == "" {
		return scopeMismatch(FormatCompact, "detached payload")
	}

	if cty := headerString(s.protected, jose.HeaderContentType); cty != CompactEncryptedType {
		return scopeMismatch(FormatCompact, fmt.Sprintf("signature declared over %q, not the encrypted token", cty))
	}
	return nil
}

// VerifySignature checks the RS512 signature over the raw header and payload
// segments, then confirms the signed payload is one complete JWE.
func (s *compactSealed) VerifySignature() error {
	pub, ok := s.signer.PublicKey.(*rsa.PublicKey)
	if !ok {
		return ErrSignatureInvalid
	}

	payload, err := s.jws.Verify(pub)
	if err != nil {
		return ErrSignatureInvalid
	}
	return s.parseInner(string(payload))
}

func (s *compactSealed) parseInner(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return scopeMismatch(FormatCompact, fmt.Sprintf("signed payload has %d segments, want a complete 5-segment JWE", len(parts)))
	}

	jwe, err := jose.ParseEncryptedCompact(token,
		[]jose.KeyAlgorithm{jweKeyAlgorithm},
		[]jose.ContentEncryption{jweContentAlgorithm})
	if err != nil {
		return malformed(FormatCompact, "encrypted token: %v", err)
	}
	if headerString(jwe.Header, jose.HeaderType) != CompactEncryptedType {
		return scopeMismatch(FormatCompact, "signed payload is not an encrypted envelope token")
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return malformed(FormatCompact, "encryption header: %v", err)
	}
	recipient, err := header.recipient()
	if err != nil {
		return malformed(FormatCompact, "encryption header: %v", err)
	}

	s.inner = jwe
	s.recipient = recipient
	return nil
}

func (s *compactSealed) Recipient() (Fingerprint, error) {
	if s.inner == nil {
		return Fingerprint{}, ErrSignatureInvalid
	}
	return s.recipient, nil
}

func (s *compactSealed) Decrypt(key *rsa.PrivateKey) ([]byte, error) {
	if s.inner == nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := s.inner.Decrypt(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func headerString(h jose.Header, key jose.HeaderKey) string {
	v, _ := h.ExtraHeaders[key].(string)
	return v
}

// joseHeader is a decoded protected header. go-jose accepts any x5c chain, so
// the single-certificate rule and the x5t#S256 cross-check are applied to the
// raw values.
type joseHeader map[string]json.RawMessage

func decodeHeader(segment string) (joseHeader, error) {
	raw, err := crypto.FromBase64URL(segment)
	if err != nil {
		return nil, fmt.Errorf("not base64url")
	}
	var h joseHeader
	if err := json.Unmarshal(raw, &h); err != nil || h == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return h, nil
}

func (h joseHeader) str(name string) (string, error) {
	raw, ok := h[name]
	if !ok {
		return "", fmt.Errorf("missing %q", name)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%q is not a string", name)
	}
	return v, nil
}

// stringList returns a header value as an ordered list of strings. Only a JSON
// array of strings is accepted.
func (h joseHeader) stringList(name string) ([]string, error) {
	raw, ok := h[name]
	if !ok {
		return nil, fmt.Errorf("missing %q", name)
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil, fmt.Errorf("%q is not an array of strings", name)
	}
	return v, nil
}

// certificate returns the single certificate carried in x5c.
func (h joseHeader) certificate() (*x509.Certificate, error) {
	chain, err := h.stringList(string(headerX5C))
	if err != nil {
		return nil, err
	}
	if len(chain) != 1 {
		return nil, fmt.Errorf("x5c has %d entries, want 1", len(chain))
	}

	der, err := crypto.FromBase64(chain[0])
	if err != nil {
		return nil, fmt.Errorf("x5c entry is not base64")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("x5c entry: %v", err)
	}
	return cert, nil
}

// recipient resolves the recipient fingerprint from x5c, x5t#S256, or both.
// When both are present they must agree.
func (h joseHeader) recipient() (Fingerprint, error) {
	_, hasCert := h[string(headerX5C)]
	_, hasThumb := h[string(headerX5TS256)]
	if !hasCert && !hasThumb {
		return Fingerprint{}, fmt.Errorf("no recipient reference")
	}

	var fp Fingerprint
	if hasCert {
		cert, err := h.certificate()
		if err != nil {
			return Fingerprint{}, err
		}
		fp = FingerprintOf(cert.Raw)
	}

	if hasThumb {
		s, err := h.str(string(headerX5TS256))
		if err != nil {
			return Fingerprint{}, err
		}
		digest, err := crypto.FromBase64URL(s)
		if err != nil || len(digest) != len(fp) {
			return Fingerprint{}, fmt.Errorf("x5t#S256 is not a SHA-256 digest")
		}
		var thumb Fingerprint
		copy(thumb[:], digest)
		if hasCert && thumb != fp {
			return Fingerprint{}, fmt.Errorf("x5t#S256 does not match x5c")
		}
		fp = thumb
	}
	return fp, nil
}
