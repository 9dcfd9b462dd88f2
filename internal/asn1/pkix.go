package pkiasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// IssuerAndSerialNumber names a certificate by issuer DN and serial
// (RFC 5652, section 10.2.4). The CA signs every full response with this
// signer identifier.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// RSAPSSParams is RSASSA-PSS-params (RFC 4055, section 3.1). The hash is
// always written explicitly because SHA-1 is outside the allow-list.
type RSAPSSParams struct {
	HashAlgorithm    pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:0"`
	MaskGenAlgorithm pkix.AlgorithmIdentifier `asn1:"explicit,optional,tag:1"`
	SaltLength       int                      `asn1:"explicit,optional,tag:2"`
	TrailerField     int                      `asn1:"explicit,optional,tag:3"`
}

// SharedToken is the stored form of a revocation shared secret: a session
// key wrapped to the issuance protection key and the secret encrypted under
// that session key.
//
//	SharedToken ::= SEQUENCE {
//	    encryptedSession OCTET STRING,
//	    encryptedPrivate OCTET STRING }
type SharedToken struct {
	EncryptedSession []byte
	EncryptedPrivate []byte
}
