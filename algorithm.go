package cmc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// signatureFamily groups signing algorithms so key type and algorithm
// compatibility can be checked in one place.
type signatureFamily int

const (
	familyRSAPKCS1 signatureFamily = iota
	familyRSAPSS
	familyECDSA
	familyEd25519
)

// digestAlgorithms is the allow-list of response, witness and verification
// digests. SHA-1 and MD5 are rejected.
var digestAlgorithms = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA256: pkiasn1.OIDDigestAlgorithmSHA256,
	crypto.SHA384: pkiasn1.OIDDigestAlgorithmSHA384,
	crypto.SHA512: pkiasn1.OIDDigestAlgorithmSHA512,
}

// digestAlgID returns the AlgorithmIdentifier for h with absent parameters
// (RFC 5754).
func digestAlgID(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	oid, ok := digestAlgorithms[h]
	if !ok {
		return pkix.AlgorithmIdentifier{}, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("digest algorithm %v is not supported", h))
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
}

func newHash(h crypto.Hash) (hash.Hash, error) {
	if _, ok := digestAlgorithms[h]; !ok {
		return nil, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("digest algorithm %v is not supported", h))
	}
	if !h.Available() {
		return nil, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("digest algorithm %v is not available in this build", h))
	}
	return h.New(), nil
}

// digest hashes data with h.
func digest(h crypto.Hash, data []byte) ([]byte, error) {
	hh, err := newHash(h)
	if err != nil {
		return nil, err
	}
	hh.Write(data)
	return hh.Sum(nil), nil
}

// hashFromOID returns the hash for a digest algorithm OID in the allow-list.
func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	for h, candidate := range digestAlgorithms {
		if candidate.Equal(oid) {
			return h, nil
		}
	}
	return 0, newError(CodeUnsupportedAlgorithm,
		fmt.Sprintf("unrecognized or unsupported digest algorithm OID %s", oid))
}

// hashForKey returns the digest the key will actually sign with. Ed25519 is
// always SHA-512 (RFC 8419). ECDSA follows the curve size unless the caller
// chose a hash explicitly.
func hashForKey(key crypto.Signer, requested crypto.Hash, explicit bool) crypto.Hash {
	switch pub := key.Public().(type) {
	case ed25519.PublicKey:
		return crypto.SHA512
	case *ecdsa.PublicKey:
		if explicit {
			return requested
		}
		switch pub.Curve.Params().BitSize {
		case 384:
			return crypto.SHA384
		case 521:
			return crypto.SHA512
		default:
			return crypto.SHA256
		}
	default:
		return requested
	}
}

// detectFamily picks the signature family for key. RSA keys default to PSS.
func detectFamily(key crypto.Signer) (signatureFamily, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return familyRSAPSS, nil
	case *ecdsa.PublicKey:
		return familyECDSA, nil
	case ed25519.PublicKey:
		return familyEd25519, nil
	default:
		return 0, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported key type %T", key.Public()))
	}
}

func signatureAlgID(h crypto.Hash, family signatureFamily) (pkix.AlgorithmIdentifier, error) {
	switch family {
	case familyRSAPKCS1:
		return rsaPKCS1AlgID(h)
	case familyRSAPSS:
		return rsaPSSAlgID(h)
	case familyECDSA:
		return ecdsaAlgID(h)
	case familyEd25519:
		return pkix.AlgorithmIdentifier{Algorithm: pkiasn1.OIDSignatureAlgorithmEd25519}, nil
	default:
		return pkix.AlgorithmIdentifier{}, newError(CodeUnsupportedAlgorithm, "unknown signature algorithm family")
	}
}

func rsaPKCS1AlgID(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	var oid asn1.ObjectIdentifier
	switch h {
	case crypto.SHA256:
		oid = pkiasn1.OIDSignatureAlgorithmSHA256WithRSA
	case crypto.SHA384:
		oid = pkiasn1.OIDSignatureAlgorithmSHA384WithRSA
	case crypto.SHA512:
		oid = pkiasn1.OIDSignatureAlgorithmSHA512WithRSA
	default:
		return pkix.AlgorithmIdentifier{}, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("RSA PKCS1v15 does not support hash %v", h))
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}, nil
}

// rsaPSSAlgID always writes RSASSA-PSS-params (RFC 4056).
func rsaPSSAlgID(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	hashOID, ok := digestAlgorithms[h]
	if !ok {
		return pkix.AlgorithmIdentifier{}, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("RSA-PSS does not support hash %v", h))
	}
	saltLen, err := saltLengthForHash(h)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}

	mgfParams, err := asn1.Marshal(pkix.AlgorithmIdentifier{Algorithm: hashOID})
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncode, "marshal MGF1 params", err)
	}
	params := pkiasn1.RSAPSSParams{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: hashOID},
		MaskGenAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  pkiasn1.OIDMGF1,
			Parameters: asn1.RawValue{FullBytes: mgfParams},
		},
		SaltLength:   saltLen,
		TrailerField: 1,
	}
	rawParams, err := asn1.Marshal(params)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncode, "marshal RSA-PSS params", err)
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDSignatureAlgorithmRSAPSS,
		Parameters: asn1.RawValue{FullBytes: rawParams},
	}, nil
}

// saltLengthForHash returns the hash output length, the recommended PSS
// salt size.
func saltLengthForHash(h crypto.Hash) (int, error) {
	switch h {
	case crypto.SHA256:
		return sha256.Size, nil
	case crypto.SHA384:
		return sha512.Size384, nil
	case crypto.SHA512:
		return sha512.Size, nil
	default:
		return 0, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("no salt length defined for hash %v", h))
	}
}

func ecdsaAlgID(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	var oid asn1.ObjectIdentifier
	switch h {
	case crypto.SHA256:
		oid = pkiasn1.OIDSignatureAlgorithmECDSAWithSHA256
	case crypto.SHA384:
		oid = pkiasn1.OIDSignatureAlgorithmECDSAWithSHA384
	case crypto.SHA512:
		oid = pkiasn1.OIDSignatureAlgorithmECDSAWithSHA512
	default:
		return pkix.AlgorithmIdentifier{}, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("ECDSA does not support hash %v", h))
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
}

// isRSAPKCS1OID accepts the bare rsaEncryption OID too; OpenSSL and several
// CMC clients put it in SignerInfo.signatureAlgorithm.
func isRSAPKCS1OID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(pkiasn1.OIDRSAEncryption) ||
		oid.Equal(pkiasn1.OIDSignatureAlgorithmSHA256WithRSA) ||
		oid.Equal(pkiasn1.OIDSignatureAlgorithmSHA384WithRSA) ||
		oid.Equal(pkiasn1.OIDSignatureAlgorithmSHA512WithRSA)
}

func isECDSAOID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(pkiasn1.OIDSignatureAlgorithmECDSAWithSHA256) ||
		oid.Equal(pkiasn1.OIDSignatureAlgorithmECDSAWithSHA384) ||
		oid.Equal(pkiasn1.OIDSignatureAlgorithmECDSAWithSHA512)
}
