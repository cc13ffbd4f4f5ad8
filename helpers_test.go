package envelope

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"
)

// Key generation dominates test time, so identities are built once per
// package run and shared read-only.
var (
	fixturesOnce sync.Once
	fixtures     *testFixtures
	fixturesErr  error
)

type testFixtures struct {
	alice   *PrivateIdentity // recipient
	bob     *PrivateIdentity // signer
	mallory *PrivateIdentity // strong, unrelated
	weakRSA *PrivateIdentity // 1024-bit RSA
	ecdsa   *PrivateIdentity // P-256
}

func loadFixtures(t testing.TB) *testFixtures {
	t.Helper()
	fixturesOnce.Do(func() {
		fixtures, fixturesErr = buildFixtures()
	})
	if fixturesErr != nil {
		t.Fatalf("build test identities: %v", fixturesErr)
	}
	return fixtures
}

func buildFixtures() (*testFixtures, error) {
	f := &testFixtures{}
	var err error

	if f.alice, err = newRSAIdentity("alice", 2048); err != nil {
		return nil, err
	}
	if f.bob, err = newRSAIdentity("bob", 2048); err != nil {
		return nil, err
	}
	if f.mallory, err = newRSAIdentity("mallory", 2048); err != nil {
		return nil, err
	}
	if f.weakRSA, err = newRSAIdentity("weak", 1024); err != nil {
		return nil, err
	}

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	if f.ecdsa, err = newIdentity("ecdsa", ecKey); err != nil {
		return nil, err
	}
	return f, nil
}

func newRSAIdentity(name string, bits int) (*PrivateIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return newIdentity(name, key)
}

func newIdentity(name string, key crypto.Signer) (*PrivateIdentity, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name, Organization: []string{"envelope tests"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return NewPrivateIdentity(cert, key)
}

// withSignatureAlgorithm returns a copy of id whose certificate claims alg.
// Only the policy validator reads the field, so the DER is left untouched.
func withSignatureAlgorithm(t testing.TB, id *PrivateIdentity, alg x509.SignatureAlgorithm) *PrivateIdentity {
	t.Helper()
	cert := *id.Certificate()
	cert.SignatureAlgorithm = alg
	out, err := NewPrivateIdentity(&cert, id.key)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// withKey pairs id's certificate with another key.
func withKey(t testing.TB, id *PrivateIdentity, key crypto.PrivateKey) *PrivateIdentity {
	t.Helper()
	out, err := NewPrivateIdentity(id.Certificate(), key)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func newEngine(t testing.TB, format Format) *Engine {
	t.Helper()
	e, err := New(WithFormat(format))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

// flipAt replaces the character at i with a different character from the
// same base64 alphabet, so the input stays decodable.
func flipAt(s []byte, i int) []byte {
	out := append([]byte(nil), s...)
	if out[i] == 'A' {
		out[i] = 'B'
	} else {
		out[i] = 'A'
	}
	return out
}
