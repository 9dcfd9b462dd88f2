package cmc

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"strings"
)

// Authentication manager identifiers recorded on a Session.
const (
	AuthManagerNone = "none"
	// AuthManagerUserSigned means the request was signed by the end entity
	// and the signer principal on the session is authoritative.
	AuthManagerUserSigned = "CMCUserSignedAuth"
)

// Session carries everything earlier pipeline stages learned about one CMC
// request. It is passed explicitly to every operation and only read here.
type Session struct {
	// UserID identifies the requester in audit records.
	UserID string
	// AuthManagerID names the authentication manager that accepted the
	// request. Empty means AuthManagerNone.
	AuthManagerID string
	// SignerPrincipal is the DER subject name of the request signer.
	SignerPrincipal []byte
	// IssuerPrincipal is the DER issuer name the client claimed in a
	// shared-secret revocation.
	IssuerPrincipal []byte

	// Body parts that failed checks in earlier stages, each reported with
	// its own status control.
	DecryptedPOPFailures     []BodyPartID
	IdentificationFailures   []BodyPartID
	IdentityProofV2Failures  []BodyPartID
	IdentityProofFailures    []BodyPartID
	POPLinkWitnessV2Failures []BodyPartID
	POPLinkWitnessFailures   []BodyPartID

	// Controls are the client controls still to be answered.
	Controls []TaggedAttribute
	// OtherMsgs are the client OtherMsg body parts.
	OtherMsgs []OtherMsg
}

func (s *Session) authManager() string {
	if s == nil || s.AuthManagerID == "" {
		return AuthManagerNone
	}
	return s.AuthManagerID
}

func (s *Session) userID() string {
	if s == nil {
		return ""
	}
	return s.UserID
}

// samePrincipal reports whether two DER names denote the same principal.
// Names that differ only in encoding or letter case are equal.
func samePrincipal(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if bytes.Equal(a, b) {
		return true
	}
	na, errA := principalString(a)
	nb, errB := principalString(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(na, nb)
}

// principalString renders a DER name in RFC 4514 form.
func principalString(der []byte) (string, error) {
	var rdn pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdn)
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		return "", asn1.SyntaxError{Msg: "trailing data after name"}
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return name.String(), nil
}

func principalOrEmpty(der []byte) string {
	s, err := principalString(der)
	if err != nil {
		return ""
	}
	return s
}
