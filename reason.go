package cmc

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/ocsp"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// CRLReason is the ENUMERATED reason a client puts in a revokeRequest
// (RFC 5280, section 5.3.1). Value 7 is unused.
type CRLReason int

const (
	CRLReasonUnspecified          CRLReason = 0
	CRLReasonKeyCompromise        CRLReason = 1
	CRLReasonCACompromise         CRLReason = 2
	CRLReasonAffiliationChanged   CRLReason = 3
	CRLReasonSuperseded           CRLReason = 4
	CRLReasonCessationOfOperation CRLReason = 5
	CRLReasonCertificateHold      CRLReason = 6
	CRLReasonRemoveFromCRL        CRLReason = 8
	CRLReasonPrivilegeWithdrawn   CRLReason = 9
	CRLReasonAACompromise         CRLReason = 10
)

// RevocationReason is the reason the CA records on a revoked certificate.
// Its values are the OCSP/CRL reason codes the CA publishes.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = ocsp.Unspecified
	ReasonKeyCompromise        RevocationReason = ocsp.KeyCompromise
	ReasonCACompromise         RevocationReason = ocsp.CACompromise
	ReasonAffiliationChanged   RevocationReason = ocsp.AffiliationChanged
	ReasonSuperseded           RevocationReason = ocsp.Superseded
	ReasonCessationOfOperation RevocationReason = ocsp.CessationOfOperation
	ReasonCertificateHold      RevocationReason = ocsp.CertificateHold
	ReasonRemoveFromCRL        RevocationReason = ocsp.RemoveFromCRL
)

// revocationReasons maps every client reason onto the CA's reason set.
// privilegeWithdrawn and aACompromise have no CA-side counterpart and
// collapse onto unspecified, as do values missing from the table.
var revocationReasons = map[CRLReason]RevocationReason{
	CRLReasonUnspecified:          ReasonUnspecified,
	CRLReasonKeyCompromise:        ReasonKeyCompromise,
	CRLReasonCACompromise:         ReasonCACompromise,
	CRLReasonAffiliationChanged:   ReasonAffiliationChanged,
	CRLReasonSuperseded:           ReasonSuperseded,
	CRLReasonCessationOfOperation: ReasonCessationOfOperation,
	CRLReasonCertificateHold:      ReasonCertificateHold,
	CRLReasonRemoveFromCRL:        ReasonRemoveFromCRL,
	CRLReasonPrivilegeWithdrawn:   ReasonUnspecified,
	CRLReasonAACompromise:         ReasonUnspecified,
}

// RevocationReason returns the CA reason for r.
func (r CRLReason) RevocationReason() RevocationReason {
	if reason, ok := revocationReasons[r]; ok {
		return reason
	}
	return ReasonUnspecified
}

func (r CRLReason) String() string {
	switch r {
	case CRLReasonUnspecified:
		return "unspecified"
	case CRLReasonKeyCompromise:
		return "keyCompromise"
	case CRLReasonCACompromise:
		return "cACompromise"
	case CRLReasonAffiliationChanged:
		return "affiliationChanged"
	case CRLReasonSuperseded:
		return "superseded"
	case CRLReasonCessationOfOperation:
		return "cessationOfOperation"
	case CRLReasonCertificateHold:
		return "certificateHold"
	case CRLReasonRemoveFromCRL:
		return "removeFromCRL"
	case CRLReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case CRLReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("crlReason(%d)", int(r))
	}
}

func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "Unspecified"
	case ReasonKeyCompromise:
		return "Key_Compromise"
	case ReasonCACompromise:
		return "CA_Compromise"
	case ReasonAffiliationChanged:
		return "Affiliation_Changed"
	case ReasonSuperseded:
		return "Superseded"
	case ReasonCessationOfOperation:
		return "Cessation_of_Operation"
	case ReasonCertificateHold:
		return "Certificate_Hold"
	case ReasonRemoveFromCRL:
		return "Remove_from_CRL"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// crlEntryExtension returns the reasonCode CRL entry extension for r. Only
// codes the CA can publish in a CRL or OCSP response are accepted.
func (r RevocationReason) crlEntryExtension() (pkix.Extension, error) {
	switch int(r) {
	case ocsp.Unspecified, ocsp.KeyCompromise, ocsp.CACompromise,
		ocsp.AffiliationChanged, ocsp.Superseded, ocsp.CessationOfOperation,
		ocsp.CertificateHold, ocsp.RemoveFromCRL:
	default:
		return pkix.Extension{}, newError(CodeEncode, fmt.Sprintf("%s is not a publishable revocation reason", r))
	}
	der, err := asn1.Marshal(asn1.Enumerated(r))
	if err != nil {
		return pkix.Extension{}, wrapError(CodeEncode, "encoding reason code extension", err)
	}
	return pkix.Extension{Id: pkiasn1.OIDExtensionReasonCode, Value: der}, nil
}
