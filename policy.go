package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/vaultsandbox/envelope-go/internal/crypto"
)

// weakSignatureAlgorithms are certificate signature algorithms built on a
// broken digest.
var weakSignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.MD2WithRSA:    true,
	x509.MD5WithRSA:    true,
	x509.SHA1WithRSA:   true,
	x509.DSAWithSHA1:   true,
	x509.ECDSAWithSHA1: true,
}

// ValidateForEncryptionOrVerification checks that id may be encrypted to or
// trusted as a signature verifier. It has no side effects.
func ValidateForEncryptionOrVerification(id *PublicIdentity) error {
	return validatePublic(id, RoleRecipient)
}

// ValidateForSigningOrDecryption runs ValidateForEncryptionOrVerification and
// additionally requires a usable RSA private key matching the certificate.
func ValidateForSigningOrDecryption(id *PrivateIdentity) error {
	return validatePrivate(id, RoleSigner)
}

func validatePublic(id *PublicIdentity, role Role) error {
	if id == nil || id.cert == nil {
		return invalidArgument(fmt.Sprintf("%s identity is required", role))
	}

	cert := id.cert
	if weakSignatureAlgorithms[cert.SignatureAlgorithm] {
		return policyError(id, role, ErrWeakAlgorithm, cert.SignatureAlgorithm.String())
	}

	pub, ok := id.rsaPublicKey()
	if !ok {
		return policyError(id, role, ErrUnsupportedKeyType, fmt.Sprintf("%T", cert.PublicKey))
	}

	if bits := rsaBits(pub); bits < crypto.MinRSAKeyBits {
		return policyError(id, role, ErrKeyTooWeak, fmt.Sprintf("%d bits, want at least %d", bits, crypto.MinRSAKeyBits))
	}

	return nil
}

func validatePrivate(id *PrivateIdentity, role Role) error {
	if id == nil {
		return invalidArgument(fmt.Sprintf("%s identity is required", role))
	}
	if err := validatePublic(&id.PublicIdentity, role); err != nil {
		return err
	}

	if id.key == nil {
		return policyError(&id.PublicIdentity, role, ErrMissingPrivateKey, "")
	}
	if _, ok := id.rsaPrivateKey(); !ok {
		return policyError(&id.PublicIdentity, role, ErrMissingPrivateKey, "private key is not the RSA key of this certificate")
	}
	return nil
}

func rsaBits(pub *rsa.PublicKey) int {
	if pub == nil || pub.N == nil {
		return 0
	}
	return pub.N.BitLen()
}

func policyError(id *PublicIdentity, role Role, sentinel error, reason string) error {
	return &PolicyError{
		Role:        role,
		Subject:     id.cert.Subject.String(),
		Fingerprint: id.fingerprint,
		Reason:      reason,
		Err:         sentinel,
	}
}
