package cmc

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
	"github.com/mdean75/cmc/internal/ber"
)

// Control is a decoded CMC control. The set of variants is closed; switch on
// the concrete pointer type to handle one:
//
//	switch c := ctrl.(type) {
//	case *RevokeRequest:
//	case *UnsupportedControl:
//	}
type Control interface {
	BodyPartID() BodyPartID
	isControl()
}

// Header carries the body-part id every control has.
type Header struct {
	BodyPart BodyPartID
}

// BodyPartID returns the id the control was tagged with.
func (h Header) BodyPartID() BodyPartID { return h.BodyPart }

func (Header) isControl() {}

// TransactionID is id-cmc-transactionId. The CA echoes it unchanged.
type TransactionID struct {
	Header
	Values []*big.Int
}

// SenderNonce is id-cmc-senderNonce. The CA answers with recipientNonce.
type SenderNonce struct {
	Header
	Nonces [][]byte
}

// GetCert is id-cmc-getCert.
type GetCert struct {
	Header
	// Issuer is the GeneralName of the issuer, normally directoryName.
	Issuer asn1.RawValue
	Serial *big.Int
}

// IssuerName returns the DER Name inside a directoryName issuer.
func (g *GetCert) IssuerName() ([]byte, bool) {
	return directoryName(g.Issuer)
}

// DataReturn is id-cmc-dataReturn. The CA echoes it unchanged.
type DataReturn struct {
	Header
	Data [][]byte
}

// QueryPending is id-cmc-queryPending. Each token is a pend token the CA
// handed out earlier.
type QueryPending struct {
	Header
	Tokens [][]byte
}

// ConfirmCertAcceptance is id-cmc-confirmCertAcceptance (also spelled
// id-confirm).
type ConfirmCertAcceptance struct {
	Header
	Issuers []asn1.RawValue
	Serial  *big.Int
}

// RevokeRequest is id-cmc-revokeRequest.
type RevokeRequest struct {
	Header
	// Issuer is the DER issuer Name.
	Issuer []byte
	Serial *big.Int
	Reason CRLReason
	// InvalidityDate is zero when absent.
	InvalidityDate time.Time
	// SharedSecret is nil when absent. It is zeroed once compared.
	SharedSecret []byte
	Comment      string
}

// Identification is id-cmc-identification.
type Identification struct {
	Header
	Name string
}

// IdentityProof is id-cmc-identityProof.
type IdentityProof struct {
	Header
	Witness []byte
}

// IdentityProofV2 is id-cmc-identityProofV2.
type IdentityProofV2 struct {
	Header
	ProofAlgorithm pkix.AlgorithmIdentifier
	MACAlgorithm   pkix.AlgorithmIdentifier
	Witness        []byte
}

// PopLinkWitness is id-cmc-popLinkWitness.
type PopLinkWitness struct {
	Header
	Witness []byte
}

// PopLinkWitnessV2 is id-cmc-popLinkWitnessV2.
type PopLinkWitnessV2 struct {
	Header
	KeyGenAlgorithm pkix.AlgorithmIdentifier
	MACAlgorithm    pkix.AlgorithmIdentifier
	Witness         []byte
}

// UnsupportedControl is any control type this package does not handle.
type UnsupportedControl struct {
	Header
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue
}

// DecodeControl decodes one tagged attribute. An unknown type yields
// *UnsupportedControl and no error. A malformed value yields an error with
// CodeDecode.
func DecodeControl(attr TaggedAttribute) (Control, error) {
	h := Header{BodyPart: BodyPartID(attr.BodyPartID)}
	oid := attr.AttrType

	switch {
	case oid.Equal(pkiasn1.OIDCMCTransactionID):
		c := &TransactionID{Header: h}
		for _, v := range attr.AttrValues {
			var n *big.Int
			if err := unmarshalValue(v, &n, oid); err != nil {
				return nil, err
			}
			c.Values = append(c.Values, n)
		}
		if err := requireValues(attr, len(c.Values)); err != nil {
			return nil, err
		}
		return c, nil

	case oid.Equal(pkiasn1.OIDCMCSenderNonce):
		nonces, err := octetValues(attr)
		if err != nil {
			return nil, err
		}
		return &SenderNonce{Header: h, Nonces: nonces}, nil

	case oid.Equal(pkiasn1.OIDCMCGetCert):
		var v pkiasn1.GetCert
		if err := firstValue(attr, &v); err != nil {
			return nil, err
		}
		return &GetCert{Header: h, Issuer: v.IssuerName, Serial: v.SerialNumber}, nil

	case oid.Equal(pkiasn1.OIDCMCDataReturn):
		data, err := octetValues(attr)
		if err != nil {
			return nil, err
		}
		return &DataReturn{Header: h, Data: data}, nil

	case oid.Equal(pkiasn1.OIDCMCQueryPending):
		tokens, err := octetValues(attr)
		if err != nil {
			return nil, err
		}
		return &QueryPending{Header: h, Tokens: tokens}, nil

	case oid.Equal(pkiasn1.OIDCMCConfirmCertAcceptance):
		var v pkiasn1.CMCCertID
		if err := firstValue(attr, &v); err != nil {
			return nil, err
		}
		return &ConfirmCertAcceptance{Header: h, Issuers: v.Issuer, Serial: v.Serial}, nil

	case oid.Equal(pkiasn1.OIDCMCRevokeRequest):
		var v pkiasn1.RevokeRequest
		if err := firstValue(attr, &v); err != nil {
			return nil, err
		}
		if v.SerialNumber == nil {
			return nil, newError(CodeDecode, "revokeRequest has no serial number")
		}
		return &RevokeRequest{
			Header:         h,
			Issuer:         v.IssuerName.FullBytes,
			Serial:         v.SerialNumber,
			Reason:         CRLReason(v.Reason),
			InvalidityDate: v.InvalidityDate,
			SharedSecret:   v.Passphrase,
			Comment:        v.Comment,
		}, nil

	case oid.Equal(pkiasn1.OIDCMCIdentification):
		var name string
		if err := firstValueWithParams(attr, &name, "utf8"); err != nil {
			return nil, err
		}
		return &Identification{Header: h, Name: name}, nil

	case oid.Equal(pkiasn1.OIDCMCIdentityProof):
		var w []byte
		if err := firstValue(attr, &w); err != nil {
			return nil, err
		}
		return &IdentityProof{Header: h, Witness: w}, nil

	case oid.Equal(pkiasn1.OIDCMCIdentityProofV2):
		var v pkiasn1.IdentityProofV2
		if err := firstValue(attr, &v); err != nil {
			return nil, err
		}
		return &IdentityProofV2{Header: h, ProofAlgorithm: v.ProofAlgID, MACAlgorithm: v.MacAlgID, Witness: v.Witness}, nil

	case oid.Equal(pkiasn1.OIDCMCPopLinkWitness):
		var w []byte
		if err := firstValue(attr, &w); err != nil {
			return nil, err
		}
		return &PopLinkWitness{Header: h, Witness: w}, nil

	case oid.Equal(pkiasn1.OIDCMCPopLinkWitnessV2):
		var v pkiasn1.PopLinkWitnessV2
		if err := firstValue(attr, &v); err != nil {
			return nil, err
		}
		return &PopLinkWitnessV2{Header: h, KeyGenAlgorithm: v.KeyGenAlgorithm, MACAlgorithm: v.MacAlgorithm, Witness: v.Witness}, nil

	default:
		return &UnsupportedControl{Header: h, Type: oid, Values: attr.AttrValues}, nil
	}
}

// EncodeControl is the inverse of DecodeControl.
func EncodeControl(c Control) (TaggedAttribute, error) {
	var (
		oid    asn1.ObjectIdentifier
		values []any
	)
	switch c := c.(type) {
	case *TransactionID:
		oid = pkiasn1.OIDCMCTransactionID
		for _, v := range c.Values {
			values = append(values, v)
		}
	case *SenderNonce:
		oid = pkiasn1.OIDCMCSenderNonce
		for _, v := range c.Nonces {
			values = append(values, v)
		}
	case *GetCert:
		oid = pkiasn1.OIDCMCGetCert
		values = append(values, pkiasn1.GetCert{IssuerName: c.Issuer, SerialNumber: c.Serial})
	case *DataReturn:
		oid = pkiasn1.OIDCMCDataReturn
		for _, v := range c.Data {
			values = append(values, v)
		}
	case *QueryPending:
		oid = pkiasn1.OIDCMCQueryPending
		for _, v := range c.Tokens {
			values = append(values, v)
		}
	case *ConfirmCertAcceptance:
		oid = pkiasn1.OIDCMCConfirmCertAcceptance
		values = append(values, pkiasn1.CMCCertID{Issuer: c.Issuers, Serial: c.Serial})
	case *RevokeRequest:
		oid = pkiasn1.OIDCMCRevokeRequest
		values = append(values, pkiasn1.RevokeRequest{
			IssuerName:     asn1.RawValue{FullBytes: c.Issuer},
			SerialNumber:   c.Serial,
			Reason:         asn1.Enumerated(c.Reason),
			InvalidityDate: c.InvalidityDate,
			Passphrase:     c.SharedSecret,
			Comment:        c.Comment,
		})
	case *Identification:
		oid = pkiasn1.OIDCMCIdentification
		raw, err := asn1.MarshalWithParams(c.Name, "utf8")
		if err != nil {
			return TaggedAttribute{}, wrapError(CodeEncode, "encoding identification", err)
		}
		values = append(values, asn1.RawValue{FullBytes: raw})
	case *IdentityProof:
		oid = pkiasn1.OIDCMCIdentityProof
		values = append(values, c.Witness)
	case *IdentityProofV2:
		oid = pkiasn1.OIDCMCIdentityProofV2
		values = append(values, pkiasn1.IdentityProofV2{ProofAlgID: c.ProofAlgorithm, MacAlgID: c.MACAlgorithm, Witness: c.Witness})
	case *PopLinkWitness:
		oid = pkiasn1.OIDCMCPopLinkWitness
		values = append(values, c.Witness)
	case *PopLinkWitnessV2:
		oid = pkiasn1.OIDCMCPopLinkWitnessV2
		values = append(values, pkiasn1.PopLinkWitnessV2{KeyGenAlgorithm: c.KeyGenAlgorithm, MacAlgorithm: c.MACAlgorithm, Witness: c.Witness})
	case *UnsupportedControl:
		return TaggedAttribute{BodyPartID: int64(c.BodyPart), AttrType: c.Type, AttrValues: c.Values}, nil
	default:
		return TaggedAttribute{}, newError(CodeEncode, fmt.Sprintf("unsupported control type %T", c))
	}

	attr := TaggedAttribute{BodyPartID: int64(c.BodyPartID()), AttrType: oid}
	for _, v := range values {
		raw, err := asn1.Marshal(v)
		if err != nil {
			return TaggedAttribute{}, wrapError(CodeEncode, fmt.Sprintf("encoding control %s", oid), err)
		}
		attr.AttrValues = append(attr.AttrValues, asn1.RawValue{FullBytes: raw})
	}
	return attr, nil
}

// EncodePKIData encodes a PKIData carrying controls and other messages and
// no requests or CMS body parts, as a revocation-only client sends.
func EncodePKIData(controls []Control, others ...OtherMsg) ([]byte, error) {
	pd := pkiasn1.PKIData{
		ControlSequence:  []TaggedAttribute{},
		ReqSequence:      []asn1.RawValue{},
		CMSSequence:      []pkiasn1.TaggedContentInfo{},
		OtherMsgSequence: append([]OtherMsg{}, others...),
	}
	for _, c := range controls {
		attr, err := EncodeControl(c)
		if err != nil {
			return nil, err
		}
		pd.ControlSequence = append(pd.ControlSequence, attr)
	}
	der, err := asn1.Marshal(pd)
	if err != nil {
		return nil, wrapError(CodeEncode, "encoding PKIData", err)
	}
	return der, nil
}

// ParsePKIData decodes a PKIData, normalizing BER input to DER.
func ParsePKIData(data []byte) (*pkiasn1.PKIData, error) {
	der, err := ber.ToDER(data)
	if err != nil {
		return nil, wrapError(CodeDecode, "normalizing PKIData", err)
	}
	var pd pkiasn1.PKIData
	rest, err := asn1.Unmarshal(der, &pd)
	if err != nil {
		return nil, wrapError(CodeDecode, "parsing PKIData", err)
	}
	if len(rest) > 0 {
		return nil, newError(CodeDecode, "trailing data after PKIData")
	}
	return &pd, nil
}

// DirectoryName wraps a DER Name as a directoryName GeneralName.
func DirectoryName(name []byte) asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: name}
}

// directoryName extracts the Name from a directoryName GeneralName.
func directoryName(gn asn1.RawValue) ([]byte, bool) {
	if gn.Class != asn1.ClassContextSpecific || gn.Tag != 4 || !gn.IsCompound {
		return nil, false
	}
	return gn.Bytes, true
}

func requireValues(attr TaggedAttribute, n int) error {
	if n == 0 {
		return newError(CodeDecode, fmt.Sprintf("control %s has no values", attr.AttrType))
	}
	return nil
}

func firstValue(attr TaggedAttribute, out any) error {
	return firstValueWithParams(attr, out, "")
}

func firstValueWithParams(attr TaggedAttribute, out any, params string) error {
	if err := requireValues(attr, len(attr.AttrValues)); err != nil {
		return err
	}
	rest, err := asn1.UnmarshalWithParams(attr.AttrValues[0].FullBytes, out, params)
	if err != nil {
		return wrapError(CodeDecode, fmt.Sprintf("decoding control %s", attr.AttrType), err)
	}
	if len(rest) > 0 {
		return newError(CodeDecode, fmt.Sprintf("trailing data in control %s", attr.AttrType))
	}
	return nil
}

func unmarshalValue(v asn1.RawValue, out any, oid asn1.ObjectIdentifier) error {
	rest, err := asn1.Unmarshal(v.FullBytes, out)
	if err != nil {
		return wrapError(CodeDecode, fmt.Sprintf("decoding control %s", oid), err)
	}
	if len(rest) > 0 {
		return newError(CodeDecode, fmt.Sprintf("trailing data in control %s", oid))
	}
	return nil
}

func octetValues(attr TaggedAttribute) ([][]byte, error) {
	out := make([][]byte, 0, len(attr.AttrValues))
	for _, v := range attr.AttrValues {
		var b []byte
		if err := unmarshalValue(v, &b, attr.AttrType); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, requireValues(attr, len(out))
}
