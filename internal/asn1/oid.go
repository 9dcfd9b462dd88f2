// Package pkiasn1 defines the ASN.1 wire types and object identifiers for
// the Cryptographic Message Syntax (RFC 5652) and Certificate Management
// over CMS (RFC 5272).
package pkiasn1

import "encoding/asn1"

// Content type OIDs (RFC 5652, section 3; RFC 5272, section 3.2).
var (
	OIDData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

	// OIDPKIData identifies id-cct-PKIData, the CMC request body.
	OIDPKIData = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 12, 2}

	// OIDPKIResponse identifies id-cct-PKIResponse, the CMC response body.
	// Its presence as eContentType forces SignedData version 3.
	OIDPKIResponse = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 12, 3}
)

// Signed attribute OIDs (RFC 5652, section 11).
var (
	OIDAttributeContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
)

// Digest algorithm OIDs (FIPS 180-4).
var (
	OIDDigestAlgorithmSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDDigestAlgorithmSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDDigestAlgorithmSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// Signature and key transport OIDs.
var (
	// OIDRSAEncryption is rsaEncryption. It doubles as the PKCS #1 v1.5 key
	// transport algorithm in KeyTransRecipientInfo and, for some signers, as
	// the SignerInfo signature algorithm.
	OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	OIDSignatureAlgorithmSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSignatureAlgorithmSHA384WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSignatureAlgorithmSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}

	// OIDSignatureAlgorithmRSAPSS requires RSASSA-PSS-params (RFC 4056).
	OIDSignatureAlgorithmRSAPSS = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDMGF1                     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}

	OIDSignatureAlgorithmECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSignatureAlgorithmECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSignatureAlgorithmECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDSignatureAlgorithmEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}

	// OIDKeyTransportRSAOAEP is id-RSAES-OAEP (RFC 4055); parameters name
	// SHA-256 for both the hash and MGF1.
	OIDKeyTransportRSAOAEP = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 7}
)

// OIDContentEncryptionAES128CBC is AES-128 in CBC mode; its parameter is the
// IV as an OCTET STRING.
var OIDContentEncryptionAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}

// CRL entry extension OIDs (RFC 5280, section 5.3) carried on the
// revocation side-effect request.
var (
	OIDExtensionReasonCode     = asn1.ObjectIdentifier{2, 5, 29, 21}
	OIDExtensionInvalidityDate = asn1.ObjectIdentifier{2, 5, 29, 24}
)

// id-cmc control attribute OIDs (RFC 5272, section 6; RFC 6402).
var (
	OIDCMCStatusInfo            = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 1}
	OIDCMCIdentification        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 2}
	OIDCMCIdentityProof         = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 3}
	OIDCMCDataReturn            = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 4}
	OIDCMCTransactionID         = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 5}
	OIDCMCSenderNonce           = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 6}
	OIDCMCRecipientNonce        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 7}
	OIDCMCEncryptedPOP          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 9}
	OIDCMCDecryptedPOP          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 10}
	OIDCMCGetCert               = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 15}
	OIDCMCRevokeRequest         = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 17}
	OIDCMCResponseInfo          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 19}
	OIDCMCQueryPending          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 21}
	OIDCMCPopLinkWitness        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 23}
	OIDCMCConfirmCertAcceptance = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 24}
	OIDCMCStatusInfoV2          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 25}
	OIDCMCPopLinkWitnessV2      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 33}
	OIDCMCIdentityProofV2       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 34}
)
