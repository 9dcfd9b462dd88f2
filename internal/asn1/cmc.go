package pkiasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

// PKIData is the CMC request body (RFC 5272, section 3.2.1).
type PKIData struct {
	ControlSequence  []TaggedAttribute
	ReqSequence      []asn1.RawValue
	CMSSequence      []TaggedContentInfo
	OtherMsgSequence []OtherMsg
}

// PKIResponse is the CMC response body (RFC 5272, section 3.2.2). It is the
// eContent of the SignedData the CA returns.
type PKIResponse struct {
	ControlSequence  []TaggedAttribute
	CMSSequence      []TaggedContentInfo
	OtherMsgSequence []OtherMsg
}

// TaggedAttribute is one control: a body-part id, a control type and its
// values.
type TaggedAttribute struct {
	BodyPartID int64
	AttrType   asn1.ObjectIdentifier
	AttrValues []asn1.RawValue `asn1:"set"`
}

// TaggedContentInfo is a body part carrying a CMS ContentInfo.
type TaggedContentInfo struct {
	BodyPartID  int64
	ContentInfo asn1.RawValue
}

// OtherMsg is an application-defined body part. The legacy revocation path
// finds the signed revoke request here by body-part id.
type OtherMsg struct {
	BodyPartID    int64
	OtherMsgType  asn1.ObjectIdentifier
	OtherMsgValue asn1.RawValue
}

// CMCStatusInfoV2 reports the outcome for a list of body parts
// (RFC 5272, section 6.1.1).
//
//	CMCStatusInfoV2 ::= SEQUENCE {
//	    cMCStatus       CMCStatus,
//	    bodyList        SEQUENCE SIZE (1..MAX) OF BodyPartReference,
//	    statusString    UTF8String OPTIONAL,
//	    otherStatusInfo OtherStatusInfo OPTIONAL }
//
// OtherStatusInfo is a CHOICE of failInfo (INTEGER), pendInfo (SEQUENCE)
// and extendedFailInfo (SEQUENCE); it is kept raw and told apart by tag.
type CMCStatusInfoV2 struct {
	CMCStatus       int
	BodyList        []int64
	StatusString    string        `asn1:"optional,utf8"`
	OtherStatusInfo asn1.RawValue `asn1:"optional"`
}

// PendInfo tells the client which token to poll with and when.
type PendInfo struct {
	PendToken []byte
	PendTime  time.Time `asn1:"generalized"`
}

// RevokeRequest is the id-cmc-revokeRequest control value
// (RFC 5272, section 6.11). Passphrase carries the shared secret.
type RevokeRequest struct {
	IssuerName     asn1.RawValue
	SerialNumber   *big.Int
	Reason         asn1.Enumerated
	InvalidityDate time.Time `asn1:"optional,generalized"`
	Passphrase     []byte    `asn1:"optional"`
	Comment        string    `asn1:"optional,utf8"`
}

// GetCert is the id-cmc-getCert control value (RFC 5272, section 6.9).
// IssuerName is a GeneralName, normally directoryName [4].
type GetCert struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

// CMCCertID names a certificate by issuer GeneralNames and serial. It is
// the value of id-cmc-confirmCertAcceptance.
type CMCCertID struct {
	Issuer []asn1.RawValue
	Serial *big.Int
}

// EncryptedPOP is the id-cmc-encryptedPOP control (RFC 5272, section 6.7).
type EncryptedPOP struct {
	Request      asn1.RawValue
	CMS          asn1.RawValue
	ThePOPAlgID  pkix.AlgorithmIdentifier
	WitnessAlgID pkix.AlgorithmIdentifier
	Witness      []byte
}

// IdentityProofV2 is the id-cmc-identityProofV2 control (RFC 5272,
// section 6.2.1).
type IdentityProofV2 struct {
	ProofAlgID pkix.AlgorithmIdentifier
	MacAlgID   pkix.AlgorithmIdentifier
	Witness    []byte
}

// PopLinkWitnessV2 is the id-cmc-popLinkWitnessV2 control (RFC 5272,
// section 6.3.1.1).
type PopLinkWitnessV2 struct {
	KeyGenAlgorithm pkix.AlgorithmIdentifier
	MacAlgorithm    pkix.AlgorithmIdentifier
	Witness         []byte
}
