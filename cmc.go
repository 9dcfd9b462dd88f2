package cmc

import (
	"crypto/x509"
	"fmt"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// TaggedAttribute is a CMC control as it appears on the wire.
type TaggedAttribute = pkiasn1.TaggedAttribute

// OtherMsg is an application-defined CMC body part.
type OtherMsg = pkiasn1.OtherMsg

// BodyPartID correlates a request body part with the response controls
// that report on it. Valid values are 1 through 2^32-1.
type BodyPartID int64

// Status is the CMCStatus value of a status control (RFC 5272, section 6.1).
type Status int

const (
	StatusSuccess         Status = 0
	StatusFailed          Status = 2
	StatusPending         Status = 3
	StatusNoSupport       Status = 4
	StatusConfirmRequired Status = 5
	StatusPOPRequired     Status = 6
	StatusPartial         Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusPending:
		return "pending"
	case StatusNoSupport:
		return "noSupport"
	case StatusConfirmRequired:
		return "confirmRequired"
	case StatusPOPRequired:
		return "popRequired"
	case StatusPartial:
		return "partial"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FailInfo is the CMCFailInfo sub-reason carried by a failed status.
type FailInfo int

const (
	FailBadAlg FailInfo = iota
	FailBadMessageCheck
	FailBadRequest
	FailBadTime
	FailBadCertID
	FailUnsupportedExt
	FailMustArchiveKeys
	FailBadIdentity
	FailPOPRequired
	FailPOPFailed
	FailNoKeyReuse
	FailInternalCAError
	FailTryLater
	FailAuthDataFail
)

var failInfoNames = [...]string{
	"badAlg", "badMessageCheck", "badRequest", "badTime", "badCertId",
	"unsupportedExt", "mustArchiveKeys", "badIdentity", "popRequired",
	"popFailed", "noKeyReuse", "internalCAError", "tryLater", "authDataFail",
}

func (f FailInfo) String() string {
	if f >= 0 && int(f) < len(failInfoNames) {
		return failInfoNames[f]
	}
	return fmt.Sprintf("failInfo(%d)", int(f))
}

// OutcomeCode is the result an earlier pipeline stage assigned to a
// sub-request. Any value other than the three named ones means failed.
type OutcomeCode int

const (
	OutcomeSuccess     OutcomeCode = 0
	OutcomePending     OutcomeCode = 2
	OutcomePOPRequired OutcomeCode = 4
)

// RequestKind says what a sub-request asked for.
type RequestKind int

const (
	KindEnrollment RequestKind = iota
	KindRevocation
	KindPOPChallenge
	KindOther
)

// SubRequest is one client body part together with the outcome the
// enrollment or revocation pipeline reached for it. It is read-only here.
type SubRequest struct {
	BodyPartID BodyPartID
	Kind       RequestKind
	Outcome    OutcomeCode
	// RequestID is the CA request id. It becomes the pend token for pending
	// requests and the responseInfo for POP challenges.
	RequestID string
	// Certificate is the issued certificate of a successful enrollment.
	Certificate *x509.Certificate
	// POP holds the encrypted challenge of a pop-required enrollment.
	POP *POPChallenge
}

// RequestType is the enrollment format the response answers.
type RequestType string

const (
	RequestTypeCMC    RequestType = "cmc"
	RequestTypeCRMF   RequestType = "crmf"
	RequestTypePKCS10 RequestType = "pkcs10"
)

// FullRequest is the input of Responder.FullResponse.
type FullRequest struct {
	// Type defaults to RequestTypeCMC. CRMF and PKCS #10 enrollments get a
	// single status control for body part 1.
	Type        RequestType
	SubRequests []SubRequest
}

func bodyPartIDs(reqs []SubRequest) []BodyPartID {
	ids := make([]BodyPartID, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.BodyPartID)
	}
	return ids
}
