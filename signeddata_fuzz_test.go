package cmc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

var fuzzParseSignedDataSink *ParsedSignedData

// fuzzSignedSeed returns a valid PKIResponse SignedData for the seed corpus.
func fuzzSignedSeed(f *testing.F) []byte {
	f.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "fuzz"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		f.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		f.Fatal(err)
	}
	body, err := NewResponseBuilder().WithStatus(Succeeded(1)).pkiResponse()
	if err != nil {
		f.Fatal(err)
	}
	signed, err := NewSigner().
		WithCertificate(cert).
		WithPrivateKey(key).
		WithContentType(pkiasn1.OIDPKIResponse).
		Sign(body)
	if err != nil {
		f.Fatal(err)
	}
	return signed
}

// FuzzParseSignedData verifies that ParseSignedData and Verify never panic
// on arbitrary input.
func FuzzParseSignedData(f *testing.F) {
	f.Add(fuzzSignedSeed(f))
	f.Add([]byte{0x30, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		psd, err := ParseSignedData(data)
		if err != nil {
			return
		}
		fuzzParseSignedDataSink = psd
		_ = psd.Verify(WithNoChainValidation())
		_ = psd.Signers()
	})
}

// FuzzDecodeControl feeds arbitrary values to every known control type.
func FuzzDecodeControl(f *testing.F) {
	seeds := []Control{
		&TransactionID{Header: Header{BodyPart: 1}, Values: []*big.Int{big.NewInt(42)}},
		&SenderNonce{Header: Header{BodyPart: 1}, Nonces: [][]byte{[]byte("nonce")}},
		&RevokeRequest{Header: Header{BodyPart: 2}, Issuer: []byte{0x30, 0x00}, Serial: big.NewInt(0x1a2b), SharedSecret: []byte("pw")},
		&QueryPending{Header: Header{BodyPart: 3}, Tokens: [][]byte{[]byte("req-1")}},
	}
	for _, c := range seeds {
		attr, err := EncodeControl(c)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(attr.AttrValues[0].FullBytes)
	}

	oids := []asn1.ObjectIdentifier{
		pkiasn1.OIDCMCTransactionID,
		pkiasn1.OIDCMCSenderNonce,
		pkiasn1.OIDCMCGetCert,
		pkiasn1.OIDCMCDataReturn,
		pkiasn1.OIDCMCQueryPending,
		pkiasn1.OIDCMCConfirmCertAcceptance,
		pkiasn1.OIDCMCRevokeRequest,
		pkiasn1.OIDCMCIdentification,
		pkiasn1.OIDCMCIdentityProof,
		pkiasn1.OIDCMCIdentityProofV2,
		pkiasn1.OIDCMCPopLinkWitness,
		pkiasn1.OIDCMCPopLinkWitnessV2,
	}

	f.Fuzz(func(t *testing.T, value []byte) {
		for _, oid := range oids {
			attr := TaggedAttribute{
				BodyPartID: 1,
				AttrType:   oid,
				AttrValues: []asn1.RawValue{{FullBytes: value}},
			}
			ctl, err := DecodeControl(attr)
			if err != nil {
				if ctl != nil {
					t.Fatalf("%s: control returned together with error %v", oid, err)
				}
				continue
			}
			if ctl.BodyPartID() != 1 {
				t.Fatalf("%s: body part id %d, want 1", oid, ctl.BodyPartID())
			}
		}
	})
}
