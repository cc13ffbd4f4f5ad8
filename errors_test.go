package envelope

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrInvalidArgument", ErrInvalidArgument},
		{"ErrWeakAlgorithm", ErrWeakAlgorithm},
		{"ErrUnsupportedKeyType", ErrUnsupportedKeyType},
		{"ErrKeyTooWeak", ErrKeyTooWeak},
		{"ErrMissingPrivateKey", ErrMissingPrivateKey},
		{"ErrMalformedEnvelope", ErrMalformedEnvelope},
		{"ErrSignatureInvalid", ErrSignatureInvalid},
		{"ErrScopeMismatch", ErrScopeMismatch},
		{"ErrNoMatchingKey", ErrNoMatchingKey},
		{"ErrDecryptionFailed", ErrDecryptionFailed},
	}

	for _, s := range sentinels {
		t.Run(s.name, func(t *testing.T) {
			if s.err == nil {
				t.Error("sentinel error is nil")
			}
			if s.err.Error() == "" {
				t.Error("sentinel error has empty message")
			}
		})
	}
}

func TestPolicyError_Error(t *testing.T) {
	fp := FingerprintOf([]byte("cert"))

	tests := []struct {
		name     string
		err      *PolicyError
		contains []string
	}{
		{
			name:     "with reason",
			err:      &PolicyError{Role: RoleRecipient, Subject: "CN=alice", Fingerprint: fp, Reason: "1024 bits", Err: ErrKeyTooWeak},
			contains: []string{"recipient", "CN=alice", fp.String(), "key too weak", "1024 bits"},
		},
		{
			name:     "without reason",
			err:      &PolicyError{Role: RoleSigner, Subject: "CN=bob", Fingerprint: fp, Err: ErrMissingPrivateKey},
			contains: []string{"signer", "CN=bob", "missing private key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestPolicyError_Unwrap(t *testing.T) {
	err := error(&PolicyError{Role: RoleDecryptor, Err: ErrUnsupportedKeyType})

	if !errors.Is(err, ErrUnsupportedKeyType) {
		t.Error("errors.Is(err, ErrUnsupportedKeyType) = false, want true")
	}
	if errors.Is(err, ErrKeyTooWeak) {
		t.Error("errors.Is(err, ErrKeyTooWeak) = true, want false")
	}

	var pe *PolicyError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &pe) {
		t.Fatal("errors.As() failed through wrapping")
	}
	if pe.Role != RoleDecryptor {
		t.Errorf("Role = %q, want %q", pe.Role, RoleDecryptor)
	}
}

func TestMalformedError(t *testing.T) {
	err := malformed(FormatCompact, "expected %d segments, got %d", 3, 2)

	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Error("errors.Is(err, ErrMalformedEnvelope) = false, want true")
	}
	if errors.Is(err, ErrScopeMismatch) {
		t.Error("errors.Is(err, ErrScopeMismatch) = true, want false")
	}
	if want := "malformed compact envelope: expected 3 segments, got 2"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestScopeError(t *testing.T) {
	err := scopeMismatch(FormatXML, "detached reference")

	if !errors.Is(err, ErrScopeMismatch) {
		t.Error("errors.Is(err, ErrScopeMismatch) = false, want true")
	}
	if errors.Is(err, ErrMalformedEnvelope) {
		t.Error("errors.Is(err, ErrMalformedEnvelope) = true, want false")
	}

	var se *ScopeError
	if !errors.As(err, &se) || se.Format != FormatXML {
		t.Errorf("errors.As() = %v, Format = %v", se != nil, se)
	}
}

func TestEnvelopeErrorInterface(t *testing.T) {
	errs := []error{
		&PolicyError{Err: ErrWeakAlgorithm},
		&MalformedError{},
		&ScopeError{},
	}
	for _, err := range errs {
		if _, ok := err.(EnvelopeError); !ok {
			t.Errorf("%T does not implement EnvelopeError", err)
		}
	}
}

func TestInvalidArgument(t *testing.T) {
	err := invalidArgument("payload is required")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Error("errors.Is(err, ErrInvalidArgument) = false, want true")
	}
	if !strings.Contains(err.Error(), "payload is required") {
		t.Errorf("Error() = %q, want it to name the argument", err.Error())
	}
}

func TestWrapCryptoError(t *testing.T) {
	if wrapCryptoError(nil) != nil {
		t.Error("wrapCryptoError(nil) should be nil")
	}

	for _, cause := range []error{
		errors.New("crypto/rsa: decryption error"),
		errors.New("cipher: message authentication failed"),
		fmt.Errorf("invalid key size: got 16, want 32"),
	} {
		got := wrapCryptoError(cause)
		if got != ErrDecryptionFailed {
			t.Errorf("wrapCryptoError(%q) = %v, want ErrDecryptionFailed", cause, got)
		}
	}
}
