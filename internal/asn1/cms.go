package pkiasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
)

// ContentInfo is the outer CMS wrapper (RFC 5652, section 3). Both the full
// CMC response and every TaggedContentInfo body part use it.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	// Content carries the inner structure behind an explicit [0] tag. When
	// FullBytes is set on marshal the [0] wrapper must already be present.
	Content asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData is the CMS SignedData content (RFC 5652, section 5.1). A full
// CMC response is a SignedData whose eContentType is id-cct-PKIResponse; a
// simple response is a degenerate SignedData with no signers.
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	// Certificates is the IMPLICIT [0] CertificateSet. Issued certificates
	// and the CA chain travel here.
	Certificates []asn1.RawValue `asn1:"optional,tag:0"`
	CRLs         []asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos  []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo holds the signed payload and its type
// (RFC 5652, section 5.2). An absent EContent means a detached signature,
// which a CMC response never uses.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// IsDetached reports whether EContent is absent from the encoding.
func (e *EncapsulatedContentInfo) IsDetached() bool {
	return len(e.EContent.FullBytes) == 0
}

// SignerInfo is the per-signer record (RFC 5652, section 5.3).
type SignerInfo struct {
	// Version is 1 for an IssuerAndSerialNumber SID and 3 for a
	// SubjectKeyIdentifier SID.
	Version int
	// SID is kept raw so the CHOICE can be told apart by its tag.
	SID             asn1.RawValue
	DigestAlgorithm pkix.AlgorithmIdentifier
	// SignedAttrs is the IMPLICIT [0] attribute SET. The signature covers
	// its DER re-encoding with a SET tag (0x31), not the wire form.
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// Attribute is a CMS attribute: a type and a SET OF values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// RawAttributes is a SET OF Attribute as it appears on the wire.
type RawAttributes []Attribute

// EnvelopedData is the CMS EnvelopedData content (RFC 5652, section 6.1).
// The EncryptedPOP control carries one with the POP challenge inside.
type EnvelopedData struct {
	Version              int
	OriginatorInfo       asn1.RawValue   `asn1:"optional,tag:0"`
	RecipientInfos       []asn1.RawValue `asn1:"set"`
	EncryptedContentInfo EncryptedContentInfo
	UnprotectedAttrs     asn1.RawValue `asn1:"optional,tag:1"`
}

// KeyTransRecipientInfo carries a content-encryption key wrapped to one
// recipient's public key (RFC 5652, section 6.2.1).
type KeyTransRecipientInfo struct {
	Version                int
	RID                    asn1.RawValue
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

// EncryptedContentInfo holds the ciphertext and how it was produced
// (RFC 5652, section 6.1).
type EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           asn1.RawValue `asn1:"optional,tag:0"`
}
