package envelope

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vaultsandbox/envelope-go/internal/crypto"
)

// compactParts seals "hello" and returns the decoded outer header and the
// inner JWE string.
func compactParts(t *testing.T) (map[string]any, string, []byte) {
	t.Helper()
	f := loadFixtures(t)

	sealed, err := newEngine(t, FormatCompact).Seal([]byte("hello"), f.alice.Public(), f.bob)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(string(sealed), ".")
	if len(parts) != 3 {
		t.Fatalf("envelope has %d segments, want 3", len(parts))
	}
	header := decodeJSONSegment(t, parts[0])
	inner, err := crypto.FromBase64URL(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	return header, string(inner), sealed
}

func decodeJSONSegment(t *testing.T, segment string) map[string]any {
	t.Helper()
	raw, err := crypto.FromBase64URL(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}

func encodeJSONSegment(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.ToBase64URL(raw)
}

// signCompact produces a correctly signed JWS over an arbitrary header and
// payload, for building envelopes Seal would never emit.
func signCompact(t *testing.T, header map[string]any, payload string, signer *PrivateIdentity) []byte {
	t.Helper()
	signingString := encodeJSONSegment(t, header) + "." + crypto.ToBase64URL([]byte(payload))
	key, ok := signer.rsaPrivateKey()
	if !ok {
		t.Fatal("signer has no RSA key")
	}
	digest := sha512.Sum512([]byte(signingString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, stdcrypto.SHA512, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return []byte(signingString + "." + crypto.ToBase64URL(sig))
}

func cloneHeader(h map[string]any) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func TestCompact_Headers(t *testing.T) {
	f := loadFixtures(t)
	header, inner, _ := compactParts(t)

	wantOuter := map[string]string{"alg": "RS512", "typ": CompactSignedType, "cty": CompactEncryptedType}
	for k, want := range wantOuter {
		if header[k] != want {
			t.Errorf("outer %s = %v, want %s", k, header[k], want)
		}
	}
	x5c, ok := header["x5c"].([]any)
	if !ok || len(x5c) != 1 || x5c[0] != crypto.ToBase64(f.bob.Certificate().Raw) {
		t.Errorf("outer x5c = %v, want the signer certificate", header["x5c"])
	}

	segments := strings.Split(inner, ".")
	if len(segments) != 5 {
		t.Fatalf("inner token has %d segments, want 5", len(segments))
	}
	jwe := decodeJSONSegment(t, segments[0])
	wantInner := map[string]string{"alg": "RSA-OAEP-256", "enc": "A256GCM", "typ": CompactEncryptedType}
	for k, want := range wantInner {
		if jwe[k] != want {
			t.Errorf("inner %s = %v, want %s", k, jwe[k], want)
		}
	}
	fp := f.alice.Fingerprint()
	if jwe["x5t#S256"] != crypto.ToBase64URL(fp[:]) {
		t.Errorf("inner x5t#S256 = %v, want recipient thumbprint", jwe["x5t#S256"])
	}

	nonce, err := crypto.FromBase64URL(segments[2])
	if err != nil || len(nonce) != crypto.AESNonceSize {
		t.Errorf("nonce length = %d, want %d", len(nonce), crypto.AESNonceSize)
	}
	tag, err := crypto.FromBase64URL(segments[4])
	if err != nil || len(tag) != crypto.AESTagSize {
		t.Errorf("tag length = %d, want %d", len(tag), crypto.AESTagSize)
	}
}

func TestCompact_Tamper_SignatureInvalid(t *testing.T) {
	f := loadFixtures(t)
	_, _, sealed := compactParts(t)
	e := newEngine(t, FormatCompact)

	dots := strings.Index(string(sealed), ".")
	last := strings.LastIndex(string(sealed), ".")

	tests := []struct {
		name string
		pos  int
	}{
		{"payload start", dots + 1},
		{"payload middle", (dots + last) / 2},
		{"signature middle", (last + len(sealed)) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Open(flipAt(sealed, tt.pos), []*PrivateIdentity{f.alice})
			if !errors.Is(err, ErrSignatureInvalid) {
				t.Errorf("Open() error = %v, want ErrSignatureInvalid", err)
			}
		})
	}
}

func TestCompact_SubstitutedSigner(t *testing.T) {
	f := loadFixtures(t)
	header, _, sealed := compactParts(t)
	parts := strings.Split(string(sealed), ".")

	forged := cloneHeader(header)
	forged["x5c"] = []string{crypto.ToBase64(f.mallory.Certificate().Raw)}
	envelope := encodeJSONSegment(t, forged) + "." + parts[1] + "." + parts[2]

	_, err := newEngine(t, FormatCompact).Open([]byte(envelope), []*PrivateIdentity{f.alice})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Open() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestCompact_Scope(t *testing.T) {
	f := loadFixtures(t)
	header, inner, _ := compactParts(t)
	segments := strings.Split(inner, ".")

	innerHeader := decodeJSONSegment(t, segments[0])
	innerHeader["typ"] = "JWT"
	retyped := encodeJSONSegment(t, innerHeader) + "." + strings.Join(segments[1:], ".")

	withHeader := func(mutate func(h map[string]any)) map[string]any {
		h := cloneHeader(header)
		mutate(h)
		return h
	}

	tests := []struct {
		name    string
		header  map[string]any
		payload string
	}{
		{"content type not the encrypted token", withHeader(func(h map[string]any) { h["cty"] = "JWT" }), inner},
		{"missing content type", withHeader(func(h map[string]any) { delete(h, "cty") }), inner},
		{"critical extension", withHeader(func(h map[string]any) { h["crit"] = []string{"exp"} }), inner},
		{"unencoded payload", withHeader(func(h map[string]any) { h["b64"] = false }), inner},
		{"detached payload", header, ""},
		{"fragment of the encrypted token", header, strings.Join(segments[:3], ".")},
		{"encrypted token with trailing segment", header, inner + ".AAAA"},
		{"inner token of another type", header, retyped},
	}

	e := newEngine(t, FormatCompact)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := signCompact(t, tt.header, tt.payload, f.bob)
			_, err := e.Open(envelope, []*PrivateIdentity{f.alice})
			if !errors.Is(err, ErrScopeMismatch) {
				t.Errorf("Open() error = %v, want ErrScopeMismatch", err)
			}
			if _, err := e.Verify(envelope); !errors.Is(err, ErrScopeMismatch) {
				t.Errorf("Verify() error = %v, want ErrScopeMismatch", err)
			}
		})
	}
}

func TestCompact_HeaderNormalization(t *testing.T) {
	f := loadFixtures(t)
	header, inner, _ := compactParts(t)
	bobCert := crypto.ToBase64(f.bob.Certificate().Raw)

	withHeader := func(mutate func(h map[string]any)) map[string]any {
		h := cloneHeader(header)
		mutate(h)
		return h
	}

	tests := []struct {
		name   string
		header map[string]any
	}{
		{"x5c as a bare string", withHeader(func(h map[string]any) { h["x5c"] = bobCert })},
		{"x5c with two entries", withHeader(func(h map[string]any) { h["x5c"] = []string{bobCert, bobCert} })},
		{"x5c empty", withHeader(func(h map[string]any) { h["x5c"] = []string{} })},
		{"x5c missing", withHeader(func(h map[string]any) { delete(h, "x5c") })},
		{"x5c not a certificate", withHeader(func(h map[string]any) { h["x5c"] = []string{"aGVsbG8="} })},
		{"alg none", withHeader(func(h map[string]any) { h["alg"] = "none" })},
		{"alg HS512", withHeader(func(h map[string]any) { h["alg"] = "HS512" })},
		{"alg as a list", withHeader(func(h map[string]any) { h["alg"] = []string{"RS512"} })},
		{"wrong typ", withHeader(func(h map[string]any) { h["typ"] = "JWT" })},
	}

	e := newEngine(t, FormatCompact)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := signCompact(t, tt.header, inner, f.bob)
			_, err := e.Open(envelope, []*PrivateIdentity{f.alice})
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("Open() error = %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestCompact_InnerRecipientReference(t *testing.T) {
	f := loadFixtures(t)
	header, inner, _ := compactParts(t)
	segments := strings.Split(inner, ".")
	original := decodeJSONSegment(t, segments[0])

	rebuild := func(mutate func(h map[string]any)) string {
		h := cloneHeader(original)
		mutate(h)
		return encodeJSONSegment(t, h) + "." + strings.Join(segments[1:], ".")
	}
	malloryFP := f.mallory.Fingerprint()

	tests := []struct {
		name    string
		inner   string
		wantErr error
	}{
		{"thumbprint disagrees with certificate", rebuild(func(h map[string]any) { h["x5t#S256"] = crypto.ToBase64URL(malloryFP[:]) }), ErrMalformedEnvelope},
		{"thumbprint wrong length", rebuild(func(h map[string]any) { h["x5t#S256"] = "AAAA" }), ErrMalformedEnvelope},
		{"no recipient reference", rebuild(func(h map[string]any) { delete(h, "x5c"); delete(h, "x5t#S256") }), ErrMalformedEnvelope},
		{"unsupported key algorithm", rebuild(func(h map[string]any) { h["alg"] = "RSA1_5" }), ErrMalformedEnvelope},
		{"unsupported content algorithm", rebuild(func(h map[string]any) { h["enc"] = "A128CBC-HS256" }), ErrMalformedEnvelope},
		{"wrapped key not base64", strings.Join([]string{segments[0], "!!", segments[2], segments[3], segments[4]}, "."), ErrMalformedEnvelope},
		// The header is the AAD, so an edited header fails authentication.
		{"thumbprint only", rebuild(func(h map[string]any) { delete(h, "x5c") }), ErrDecryptionFailed},
		{"addressed to another identity", rebuild(func(h map[string]any) {
			delete(h, "x5c")
			h["x5t#S256"] = crypto.ToBase64URL(malloryFP[:])
		}), ErrNoMatchingKey},
	}

	e := newEngine(t, FormatCompact)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := signCompact(t, header, tt.inner, f.bob)
			_, err := e.Open(envelope, []*PrivateIdentity{f.alice})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompact_DecryptionFailed(t *testing.T) {
	f := loadFixtures(t)
	header, inner, _ := compactParts(t)
	segments := strings.Split(inner, ".")

	corrupt := func(i int) string {
		out := append([]string(nil), segments...)
		out[i] = string(flipAt([]byte(out[i]), len(out[i])/2))
		return strings.Join(out, ".")
	}

	tests := []struct {
		name  string
		inner string
	}{
		{"wrapped key", corrupt(1)},
		{"nonce", corrupt(2)},
		{"ciphertext", corrupt(3)},
		{"tag", corrupt(4)},
	}

	e := newEngine(t, FormatCompact)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Re-signed by the legitimate signer, so only decryption can fail.
			envelope := signCompact(t, header, tt.inner, f.bob)
			_, err := e.Open(envelope, []*PrivateIdentity{f.alice})
			if err != ErrDecryptionFailed {
				t.Errorf("Open() error = %v, want bare ErrDecryptionFailed", err)
			}
		})
	}
}

func TestCompact_UnsignedJWE(t *testing.T) {
	f := loadFixtures(t)
	_, inner, _ := compactParts(t)

	_, err := newEngine(t, FormatCompact).Open([]byte(inner), []*PrivateIdentity{f.alice})
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Open() error = %v, want ErrMalformedEnvelope", err)
	}
	if !strings.Contains(err.Error(), "unsigned") {
		t.Errorf("Open() error = %q, want it to mention the unsigned token", err)
	}
}

func TestCompact_TrailingWhitespace(t *testing.T) {
	f := loadFixtures(t)
	_, _, sealed := compactParts(t)

	opened, err := newEngine(t, FormatCompact).Open(append(sealed, '\n'), []*PrivateIdentity{f.alice})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(opened.Payload) != "hello" {
		t.Errorf("Payload = %q, want hello", opened.Payload)
	}
}
