package cmc

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// ResponseBuilder accumulates the controls and certificates of one
// response. It is a value: every method returns a new builder and leaves the
// receiver untouched, so a step that fails can be discarded by keeping the
// previous value. Body-part ids start at 1 and grow by one per control.
//
// The first encoding error sticks; later calls become no-ops and Err
// reports it.
type ResponseBuilder struct {
	controls []TaggedAttribute
	certs    []*x509.Certificate
	next     BodyPartID
	err      error
}

// NewResponseBuilder returns an empty builder whose first control gets
// body-part id 1.
func NewResponseBuilder() ResponseBuilder {
	return ResponseBuilder{next: 1}
}

// WithControl appends a control of type oid. Each value is DER encoded with
// encoding/asn1; an asn1.RawValue with FullBytes is taken as is.
func (b ResponseBuilder) WithControl(oid asn1.ObjectIdentifier, values ...any) ResponseBuilder {
	if b.err != nil {
		return b
	}
	if b.next == 0 {
		b.next = 1
	}
	attr := TaggedAttribute{
		BodyPartID: int64(b.next),
		AttrType:   oid,
		AttrValues: make([]asn1.RawValue, 0, len(values)),
	}
	for _, v := range values {
		raw, err := asn1.Marshal(v)
		if err != nil {
			b.err = wrapError(CodeEncode, fmt.Sprintf("encoding control %s", oid), err)
			return b
		}
		attr.AttrValues = append(attr.AttrValues, asn1.RawValue{FullBytes: raw})
	}
	b.controls = append(b.controls[:len(b.controls):len(b.controls)], attr)
	b.next++
	return b
}

// WithStatus appends a CMCStatusInfoV2 control.
func (b ResponseBuilder) WithStatus(info StatusInfo) ResponseBuilder {
	if b.err != nil {
		return b
	}
	der, err := info.marshal()
	if err != nil {
		b.err = err
		return b
	}
	return b.WithControl(pkiasn1.OIDCMCStatusInfoV2, asn1.RawValue{FullBytes: der})
}

// WithCertificate adds certificates to the response. A certificate already
// present is not added twice.
func (b ResponseBuilder) WithCertificate(certs ...*x509.Certificate) ResponseBuilder {
	for _, c := range certs {
		if c == nil || b.hasCertificate(c) {
			continue
		}
		b.certs = append(b.certs[:len(b.certs):len(b.certs)], c)
	}
	return b
}

func (b ResponseBuilder) hasCertificate(c *x509.Certificate) bool {
	for _, have := range b.certs {
		if bytes.Equal(have.Raw, c.Raw) {
			return true
		}
	}
	return false
}

// NextBodyPartID is the id the next control will get.
func (b ResponseBuilder) NextBodyPartID() BodyPartID {
	if b.next == 0 {
		return 1
	}
	return b.next
}

// Controls returns a copy of the controls in the order they were added.
func (b ResponseBuilder) Controls() []TaggedAttribute {
	return append([]TaggedAttribute(nil), b.controls...)
}

// Certificates returns a copy of the certificates in the order they were
// added.
func (b ResponseBuilder) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), b.certs...)
}

// Err returns the first encoding error, if any.
func (b ResponseBuilder) Err() error {
	return b.err
}

// pkiResponse encodes the controls as a PKIResponse with empty cms and
// otherMsg sequences.
func (b ResponseBuilder) pkiResponse() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	resp := pkiasn1.PKIResponse{
		ControlSequence:  b.Controls(),
		CMSSequence:      []pkiasn1.TaggedContentInfo{},
		OtherMsgSequence: []pkiasn1.OtherMsg{},
	}
	if resp.ControlSequence == nil {
		resp.ControlSequence = []TaggedAttribute{}
	}
	der, err := asn1.Marshal(resp)
	if err != nil {
		return nil, wrapError(CodeEncode, "encoding PKIResponse", err)
	}
	return der, nil
}
