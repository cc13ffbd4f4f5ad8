package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/vaultsandbox/envelope-go/internal/crypto"
)

// XML namespaces and algorithm identifiers.
const (
	XMLEncNamespace   = "http://www.w3.org/2001/04/xmlenc#"
	XMLEnc11Namespace = "http://www.w3.org/2009/xmlenc11#"
	XMLDSigNamespace  = "http://www.w3.org/2000/09/xmldsig#"

	xmlEncTypeElement = XMLEncNamespace + "Element"
	xmlAES256GCM      = XMLEnc11Namespace + "aes256-gcm"
	xmlRSAOAEP        = XMLEnc11Namespace + "rsa-oaep"
	xmlMGF1SHA256     = XMLEnc11Namespace + "mgf1sha256"
	xmlDigestSHA256   = XMLEncNamespace + "sha256"

	xmlTransformEnveloped = XMLDSigNamespace + "enveloped-signature"
	xmlC14N10             = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	xmlExcC14N            = "http://www.w3.org/2001/10/xml-exc-c14n#"
	xmlC14N11             = "http://www.w3.org/2006/12/xml-c14n11"
)

// comment-free canonicalizations accepted after the enveloped transform.
var xmlCanonicalizations = map[string]bool{
	xmlC14N10:  true,
	xmlExcC14N: true,
	xmlC14N11:  true,
}

// XMLCodec encodes envelopes as an xenc:EncryptedData element whose last
// child is an enveloped ds:Signature over the whole element (Reference
// URI=""), signed with rsa-sha512 after C14N 1.0 canonicalization.
type XMLCodec struct{}

// NewXMLCodec returns the XML codec.
func NewXMLCodec() *XMLCodec {
	return &XMLCodec{}
}

// Format implements Codec.
func (c *XMLCodec) Format() Format {
	return FormatXML
}

// Seal implements Codec. The payload must be a well-formed XML document.
func (c *XMLCodec) Seal(payload []byte, recipient *PublicIdentity, signer *PrivateIdentity) ([]byte, error) {
	in := etree.NewDocument()
	if err := in.ReadFromBytes(payload); err != nil || in.Root() == nil {
		return nil, invalidArgument("payload is not an XML document")
	}

	doc, err := c.seal(payload, recipient, signer)
	if err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

// SealDocument seals doc and returns the envelope as a new document. doc is
// serialized but never modified.
func (c *XMLCodec) SealDocument(doc *etree.Document, recipient *PublicIdentity, signer *PrivateIdentity) (*etree.Document, error) {
	if doc == nil || doc.Root() == nil {
		return nil, invalidArgument("document is required")
	}
	if err := validatePublic(recipient, RoleRecipient); err != nil {
		return nil, err
	}
	if err := validatePrivate(signer, RoleSigner); err != nil {
		return nil, err
	}

	payload, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	return c.seal(payload, recipient, signer)
}

// OpenDocument opens an XML envelope held as a document tree and returns the
// decrypted document together with the signer.
func (c *XMLCodec) OpenDocument(envelope *etree.Document, candidates []*PrivateIdentity) (*etree.Document, *PublicIdentity, error) {
	if envelope == nil || envelope.Root() == nil {
		return nil, nil, invalidArgument("envelope is required")
	}
	raw, err := envelope.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("serialize envelope: %w", err)
	}

	opened, err := (&Engine{codec: c}).Open(raw, candidates)
	if err != nil {
		return nil, nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(opened.Payload); err != nil {
		return nil, nil, fmt.Errorf("decrypted payload is not XML: %w", err)
	}
	return doc, opened.Signer, nil
}

// seal builds the EncryptedData element, then signs it. The result is a
// fresh document; nothing is committed on failure.
func (c *XMLCodec) seal(payload []byte, recipient *PublicIdentity, signer *PrivateIdentity) (*etree.Document, error) {
	encrypted, err := c.encrypt(payload, recipient)
	if err != nil {
		return nil, err
	}

	signed, err := signEnveloped(encrypted, signer)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.SetRoot(signed)
	return doc, nil
}

// signEnveloped returns a copy of el with an enveloped rsa-sha512 signature
// appended as its last child.
func signEnveloped(el *etree.Element, signer *PrivateIdentity) (*etree.Element, error) {
	key, ok := signer.rsaPrivateKey()
	if !ok {
		return nil, ErrMissingPrivateKey
	}

	ctx := dsig.NewDefaultSigningContext(&signerKeyStore{key: key, cert: signer.cert.Raw})
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := ctx.SetSignatureMethod(dsig.RSASHA512SignatureMethod); err != nil {
		return nil, fmt.Errorf("select signature method: %w", err)
	}

	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	return signed, nil
}

func (c *XMLCodec) encrypt(payload []byte, recipient *PublicIdentity) (*etree.Element, error) {
	pub, ok := recipient.rsaPublicKey()
	if !ok {
		return nil, ErrUnsupportedKeyType
	}

	cek, err := crypto.NewContentKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(cek)

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}

	wrapped, err := crypto.WrapKey(pub, cek)
	if err != nil {
		return nil, err
	}

	// XML Encryption 1.1 AES-GCM: IV || ciphertext || tag.
	ciphertext, err := crypto.EncryptAES(cek, payload, nonce)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	root := etree.NewElement("xenc:EncryptedData")
	root.CreateAttr("xmlns:xenc", XMLEncNamespace)
	root.CreateAttr("Type", xmlEncTypeElement)

	root.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", xmlAES256GCM)

	keyInfo := root.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", XMLDSigNamespace)

	encKey := keyInfo.CreateElement("xenc:EncryptedKey")
	method := encKey.CreateElement("xenc:EncryptionMethod")
	method.CreateAttr("Algorithm", xmlRSAOAEP)
	method.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", xmlDigestSHA256)
	mgf := method.CreateElement("xenc11:MGF")
	mgf.CreateAttr("xmlns:xenc11", XMLEnc11Namespace)
	mgf.CreateAttr("Algorithm", xmlMGF1SHA256)

	encKey.CreateElement("ds:KeyInfo").
		CreateElement("ds:X509Data").
		CreateElement("ds:X509Certificate").
		SetText(crypto.ToBase64(recipient.cert.Raw))
	encKey.CreateElement("xenc:CipherData").
		CreateElement("xenc:CipherValue").
		SetText(crypto.ToBase64(wrapped))

	root.CreateElement("xenc:CipherData").
		CreateElement("xenc:CipherValue").
		SetText(crypto.ToBase64(ciphertext))

	return root, nil
}

// signerKeyStore hands goxmldsig the signer key for one Seal call.
type signerKeyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (s *signerKeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return s.key, s.cert, nil
}

// Parse implements Codec.
func (c *XMLCodec) Parse(envelope []byte) (Sealed, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, malformed(FormatXML, "not well-formed XML")
	}

	root := doc.Root()
	if root == nil || !isElement(root, XMLEncNamespace, "EncryptedData") {
		return nil, malformed(FormatXML, "root is not xenc:EncryptedData")
	}

	sigs := descendants(root, XMLDSigNamespace, "Signature")
	switch len(sigs) {
	case 0:
		return nil, malformed(FormatXML, "missing signature")
	case 1:
	default:
		return nil, malformed(FormatXML, "%d signatures, want exactly 1", len(sigs))
	}
	sig := sigs[0]

	signer, err := singleCertificate(sig)
	if err != nil {
		return nil, malformed(FormatXML, "signature key info: %v", err)
	}

	return &xmlSealed{root: root, sig: sig, signer: signer}, nil
}

type xmlSealed struct {
	root   *etree.Element
	sig    *etree.Element
	signer *x509.Certificate

	wrappedKey *etree.Element
	cipherData *etree.Element
	recipient  Fingerprint
}

// parseEncryption reads the algorithms, the recipient certificate and the
// cipher values. It runs only after the signature over them has verified.
func (s *xmlSealed) parseEncryption() error {
	method, err := onlyChild(s.root, XMLEncNamespace, "EncryptionMethod")
	if err != nil {
		return malformed(FormatXML, "%v", err)
	}
	if alg := method.SelectAttrValue("Algorithm", ""); alg != xmlAES256GCM {
		return malformed(FormatXML, "unsupported content algorithm %q", alg)
	}

	keyInfo, err := onlyChild(s.root, XMLDSigNamespace, "KeyInfo")
	if err != nil {
		return malformed(FormatXML, "%v", err)
	}
	encKey, err := onlyChild(keyInfo, XMLEncNamespace, "EncryptedKey")
	if err != nil {
		return malformed(FormatXML, "%v", err)
	}
	keyMethod, err := onlyChild(encKey, XMLEncNamespace, "EncryptionMethod")
	if err != nil {
		return malformed(FormatXML, "encrypted key: %v", err)
	}
	if alg := keyMethod.SelectAttrValue("Algorithm", ""); alg != xmlRSAOAEP {
		return malformed(FormatXML, "unsupported key transport algorithm %q", alg)
	}
	if digest, err := onlyChild(keyMethod, XMLDSigNamespace, "DigestMethod"); err != nil ||
		digest.SelectAttrValue("Algorithm", "") != xmlDigestSHA256 {
		return malformed(FormatXML, "key transport digest must be SHA-256")
	}
	if mgf, err := onlyChild(keyMethod, XMLEnc11Namespace, "MGF"); err != nil ||
		mgf.SelectAttrValue("Algorithm", "") != xmlMGF1SHA256 {
		return malformed(FormatXML, "key transport MGF must be MGF1-SHA-256")
	}

	recipientInfo, err := onlyChild(encKey, XMLDSigNamespace, "KeyInfo")
	if err != nil {
		return malformed(FormatXML, "encrypted key: %v", err)
	}
	recipient, err := singleCertificate(recipientInfo)
	if err != nil {
		return malformed(FormatXML, "recipient key info: %v", err)
	}

	wrappedKey, err := cipherValue(encKey)
	if err != nil {
		return malformed(FormatXML, "encrypted key: %v", err)
	}
	cipherData, err := cipherValue(s.root)
	if err != nil {
		return malformed(FormatXML, "%v", err)
	}

	s.wrappedKey = wrappedKey
	s.cipherData = cipherData
	s.recipient = FingerprintOf(recipient.Raw)
	return nil
}

func (s *xmlSealed) Signer() *x509.Certificate {
	return s.signer
}

// CheckScope accepts only a signature that is a direct child of the
// EncryptedData root with a single Reference URI="" and the transforms
// enveloped-signature followed by one comment-free canonicalization. Anything
// else signs a fragment that could be moved into a forged document.
func (s *xmlSealed) CheckScope() error {
	if s.sig.Parent() != s.root {
		return scopeMismatch(FormatXML, "signature is not enveloped in the EncryptedData element")
	}

	signedInfo, err := onlyChild(s.sig, XMLDSigNamespace, "SignedInfo")
	if err != nil {
		return malformed(FormatXML, "signature: %v", err)
	}

	c14n, err := onlyChild(signedInfo, XMLDSigNamespace, "CanonicalizationMethod")
	if err != nil {
		return malformed(FormatXML, "signature: %v", err)
	}
	if !xmlCanonicalizations[c14n.SelectAttrValue("Algorithm", "")] {
		return scopeMismatch(FormatXML, "canonicalization must exclude comments")
	}

	refs := children(signedInfo, XMLDSigNamespace, "Reference")
	if len(refs) != 1 {
		return scopeMismatch(FormatXML, fmt.Sprintf("signature has %d references, want 1", len(refs)))
	}
	ref := refs[0]

	uri := ref.SelectAttr("URI")
	if uri == nil || uri.Value != "" {
		return scopeMismatch(FormatXML, "reference does not cover the whole document")
	}

	transforms, err := onlyChild(ref, XMLDSigNamespace, "Transforms")
	if err != nil {
		return scopeMismatch(FormatXML, "reference has no enveloped-signature transform")
	}
	list := children(transforms, XMLDSigNamespace, "Transform")
	if len(list) != 2 ||
		list[0].SelectAttrValue("Algorithm", "") != xmlTransformEnveloped ||
		!xmlCanonicalizations[list[1].SelectAttrValue("Algorithm", "")] ||
		len(list[1].ChildElements()) != 0 {
		return scopeMismatch(FormatXML, "transforms must be enveloped-signature followed by canonicalization only")
	}
	return nil
}

// VerifySignature validates the enveloped signature with goxmldsig, trusting
// exactly the embedded certificate. Validity periods and chains are the
// caller's trust decision, so the validation clock is pinned inside the
// certificate's own validity window.
func (s *xmlSealed) VerifySignature() error {
	pub, ok := s.signer.PublicKey.(*rsa.PublicKey)
	if !ok || pub == nil {
		return ErrSignatureInvalid
	}

	store := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{s.signer}}
	ctx := dsig.NewDefaultValidationContext(store)
	ctx.Clock = dsig.NewFakeClockAt(s.signer.NotBefore)
	if _, err := ctx.Validate(s.root); err != nil {
		return ErrSignatureInvalid
	}
	return s.parseEncryption()
}

func (s *xmlSealed) Recipient() (Fingerprint, error) {
	if s.wrappedKey == nil {
		return Fingerprint{}, ErrSignatureInvalid
	}
	return s.recipient, nil
}

func (s *xmlSealed) Decrypt(key *rsa.PrivateKey) ([]byte, error) {
	if s.wrappedKey == nil {
		return nil, ErrDecryptionFailed
	}

	wrapped, err := crypto.FromBase64XML(s.wrappedKey.Text())
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	cek, err := crypto.UnwrapKey(key, wrapped)
	if err != nil {
		return nil, wrapCryptoError(err)
	}
	defer crypto.Wipe(cek)

	ciphertext, err := crypto.FromBase64XML(s.cipherData.Text())
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := crypto.DecryptAES(cek, ciphertext)
	if err != nil {
		return nil, wrapCryptoError(err)
	}
	return plaintext, nil
}

func isElement(el *etree.Element, ns, tag string) bool {
	return el.Tag == tag && el.NamespaceURI() == ns
}

func children(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if isElement(c, ns, tag) {
			out = append(out, c)
		}
	}
	return out
}

func descendants(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if isElement(c, ns, tag) {
			out = append(out, c)
		}
		out = append(out, descendants(c, ns, tag)...)
	}
	return out
}

func onlyChild(el *etree.Element, ns, tag string) (*etree.Element, error) {
	found := children(el, ns, tag)
	if len(found) != 1 {
		return nil, fmt.Errorf("%s has %d %s elements, want 1", el.Tag, len(found), tag)
	}
	return found[0], nil
}

func cipherValue(el *etree.Element) (*etree.Element, error) {
	data, err := onlyChild(el, XMLEncNamespace, "CipherData")
	if err != nil {
		return nil, err
	}
	return onlyChild(data, XMLEncNamespace, "CipherValue")
}

// singleCertificate returns the only X509Certificate under keyInfo's
// X509Data. keyInfo may be a ds:KeyInfo or a ds:Signature.
func singleCertificate(el *etree.Element) (*x509.Certificate, error) {
	certs := descendants(el, XMLDSigNamespace, "X509Certificate")
	if len(certs) != 1 {
		return nil, fmt.Errorf("%d embedded certificates, want 1", len(certs))
	}

	der, err := crypto.FromBase64XML(certs[0].Text())
	if err != nil {
		return nil, fmt.Errorf("certificate is not base64")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %v", err)
	}
	return cert, nil
}
