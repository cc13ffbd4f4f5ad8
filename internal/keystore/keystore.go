// Package keystore loads envelope identities from PEM and PKCS#12 files.
//
// Loading never applies the certificate policy; the engine does that before
// every operation. A loaded identity may therefore still be rejected later.
package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	envelope "github.com/vaultsandbox/envelope-go"
	"github.com/vaultsandbox/envelope-go/internal/logging"
)

var (
	// ErrNoCertificate is returned when a file holds no certificate.
	ErrNoCertificate = errors.New("no certificate found")

	// ErrNoPrivateKey is returned when a file holds no private key.
	ErrNoPrivateKey = errors.New("no private key found")

	// ErrMultipleCertificates is returned when a certificate file holds more
	// than one certificate.
	ErrMultipleCertificates = errors.New("more than one certificate found")
)

// Loader reads identities from disk.
type Loader struct {
	log logging.Logger
}

// New returns a Loader. A nil logger discards output.
func New(log logging.Logger) *Loader {
	if log == nil {
		log = logging.Nop()
	}
	return &Loader{log: log}
}

// LoadCertificate reads a single PEM or DER certificate.
func (l *Loader) LoadCertificate(path string) (*envelope.PublicIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	cert, err := ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	id, err := envelope.NewPublicIdentity(cert)
	if err != nil {
		return nil, err
	}
	l.loaded("certificate", path, id)
	return id, nil
}

// LoadKeyPair reads a certificate and its private key from two PEM files.
func (l *Loader) LoadKeyPair(certPath, keyPath string) (*envelope.PrivateIdentity, error) {
	pub, err := l.LoadCertificate(certPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}

	id, err := envelope.NewPrivateIdentity(pub.Certificate(), key)
	if err != nil {
		return nil, err
	}
	l.log.Log(logging.DebugLevel, func() string {
		return fmt.Sprintf("paired private key %s with %s", keyPath, id.Fingerprint())
	})
	return id, nil
}

// LoadPKCS12 reads a PKCS#12 file holding exactly one certificate and one
// private key.
func (l *Loader) LoadPKCS12(path, password string) (*envelope.PrivateIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PKCS#12: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%s: decode PKCS#12: %w", path, err)
	}

	id, err := envelope.NewPrivateIdentity(cert, key)
	if err != nil {
		return nil, err
	}
	l.loaded("PKCS#12 identity", path, id.Public())
	return id, nil
}

func (l *Loader) loaded(what, path string, id *envelope.PublicIdentity) {
	l.log.Log(logging.DebugLevel, func() string {
		return fmt.Sprintf("loaded %s %s: %s (%s)", what, path, id.Subject(), id.Fingerprint())
	})
}

// ParseCertificate decodes one certificate from PEM, or from raw DER when
// the input is not PEM.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	var found []*pem.Block
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			found = append(found, block)
		}
	}

	switch len(found) {
	case 0:
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, ErrNoCertificate
		}
		return cert, nil
	case 1:
		return x509.ParseCertificate(found[0].Bytes)
	default:
		return nil, ErrMultipleCertificates
	}
}

// ParsePrivateKey decodes the first private key block of a PEM file. PKCS#1,
// PKCS#8 and SEC 1 encodings are accepted.
func ParsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoPrivateKey
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			return x509.ParsePKCS8PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			return x509.ParseECPrivateKey(block.Bytes)
		case "ENCRYPTED PRIVATE KEY":
			return nil, fmt.Errorf("encrypted PEM keys are not supported, use PKCS#12")
		}
	}
}
