// Package envelope seals payloads into signed, encrypted envelopes addressed
// to an X.509 certificate, and opens them again.
//
// Sealing encrypts the payload for the recipient certificate (RSA-OAEP key
// wrap of a fresh AES-256-GCM content key) and then signs the encrypted
// layer with the signer's key (RSA with SHA-512), embedding both
// certificates. Opening verifies the signature first, reports who signed,
// and decrypts with whichever of the caller's identities the envelope is
// addressed to.
//
// Basic usage:
//
//	engine, err := envelope.New(envelope.WithFormat(envelope.FormatCompact))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sealed, err := engine.Seal([]byte("hello"), recipient.Public(), signer)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	opened, err := engine.Open(sealed, []*envelope.PrivateIdentity{recipient})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(string(opened.Payload), opened.Signer.Subject())
//
// Two wire encodings are available: [FormatXML] (XML Encryption with an
// enveloped XML Signature) and [FormatCompact] (a JWS whose payload is a
// JWE). Both go through the same policy gates: certificates signed with
// SHA-1 or weaker, non-RSA keys and RSA keys under 2048 bits are rejected
// before any cryptography runs.
//
// The signer certificate is taken from the envelope itself and only checked
// against the key policy. Deciding whether that signer is trusted is left to
// the caller.
package envelope
