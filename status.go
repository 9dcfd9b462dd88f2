package cmc

import (
	"encoding/asn1"
	"fmt"
	"time"

	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// PendInfo tells a client with a pending request what to poll with.
type PendInfo struct {
	Token []byte
	Time  time.Time
}

// StatusInfo is a decoded CMCStatusInfoV2 control. At most one of FailInfo
// and PendInfo is set.
type StatusInfo struct {
	Status       Status
	BodyList     []BodyPartID
	StatusString string
	FailInfo     *FailInfo
	PendInfo     *PendInfo
}

// Failed returns a failed status with the given sub-reason.
func Failed(fail FailInfo, ids ...BodyPartID) StatusInfo {
	return StatusInfo{Status: StatusFailed, BodyList: ids, FailInfo: &fail}
}

// FailedWithString is Failed with a status string.
func FailedWithString(fail FailInfo, msg string, ids ...BodyPartID) StatusInfo {
	s := Failed(fail, ids...)
	s.StatusString = msg
	return s
}

// Succeeded returns a success status.
func Succeeded(ids ...BodyPartID) StatusInfo {
	return StatusInfo{Status: StatusSuccess, BodyList: ids}
}

// Pending returns a pending status carrying pend info.
func Pending(token []byte, at time.Time, ids ...BodyPartID) StatusInfo {
	return StatusInfo{
		Status:   StatusPending,
		BodyList: ids,
		PendInfo: &PendInfo{Token: token, Time: at},
	}
}

func (s StatusInfo) marshal() ([]byte, error) {
	if len(s.BodyList) == 0 {
		return nil, newError(CodeEncode, fmt.Sprintf("%s status has an empty body list", s.Status))
	}
	v := pkiasn1.CMCStatusInfoV2{
		CMCStatus:    int(s.Status),
		BodyList:     make([]int64, 0, len(s.BodyList)),
		StatusString: s.StatusString,
	}
	for _, id := range s.BodyList {
		v.BodyList = append(v.BodyList, int64(id))
	}

	var (
		other []byte
		err   error
	)
	switch {
	case s.FailInfo != nil:
		other, err = asn1.Marshal(int(*s.FailInfo))
	case s.PendInfo != nil:
		other, err = asn1.Marshal(pkiasn1.PendInfo{
			PendToken: s.PendInfo.Token,
			PendTime:  s.PendInfo.Time.UTC().Truncate(time.Second),
		})
	}
	if err != nil {
		return nil, wrapError(CodeEncode, "encoding OtherStatusInfo", err)
	}
	if other != nil {
		v.OtherStatusInfo = asn1.RawValue{FullBytes: other}
	}

	der, err := asn1.Marshal(v)
	if err != nil {
		return nil, wrapError(CodeEncode, "encoding CMCStatusInfoV2", err)
	}
	return der, nil
}

// ParseStatusInfo decodes one CMCStatusInfoV2 value.
func ParseStatusInfo(der []byte) (StatusInfo, error) {
	var v pkiasn1.CMCStatusInfoV2
	rest, err := asn1.Unmarshal(der, &v)
	if err != nil {
		return StatusInfo{}, wrapError(CodeDecode, "decoding CMCStatusInfoV2", err)
	}
	if len(rest) > 0 {
		return StatusInfo{}, newError(CodeDecode, "trailing data after CMCStatusInfoV2")
	}

	s := StatusInfo{Status: Status(v.CMCStatus), StatusString: v.StatusString}
	for _, id := range v.BodyList {
		s.BodyList = append(s.BodyList, BodyPartID(id))
	}

	other := v.OtherStatusInfo
	if len(other.FullBytes) == 0 {
		return s, nil
	}
	switch {
	case other.Class == asn1.ClassUniversal && other.Tag == asn1.TagInteger:
		var f int
		if _, err := asn1.Unmarshal(other.FullBytes, &f); err != nil {
			return StatusInfo{}, wrapError(CodeDecode, "decoding failInfo", err)
		}
		fail := FailInfo(f)
		s.FailInfo = &fail
	case other.Class == asn1.ClassUniversal && other.Tag == asn1.TagSequence:
		var p pkiasn1.PendInfo
		if _, err := asn1.Unmarshal(other.FullBytes, &p); err != nil {
			// extendedFailInfo is also a SEQUENCE; it is not reported.
			return s, nil
		}
		s.PendInfo = &PendInfo{Token: p.PendToken, Time: p.PendTime}
	}
	return s, nil
}

// StatusGroups partitions a batch of sub-requests by outcome.
type StatusGroups struct {
	Pending     []SubRequest
	POPRequired []SubRequest
	Success     []SubRequest
	Failed      []SubRequest
}

// Classify sorts every sub-request into exactly one group. Outcome codes
// other than success, pending and pop-required count as failed.
func Classify(reqs []SubRequest) StatusGroups {
	var g StatusGroups
	for _, r := range reqs {
		switch r.Outcome {
		case OutcomeSuccess:
			g.Success = append(g.Success, r)
		case OutcomePending:
			g.Pending = append(g.Pending, r)
		case OutcomePOPRequired:
			g.POPRequired = append(g.POPRequired, r)
		default:
			g.Failed = append(g.Failed, r)
		}
	}
	return g
}

// sessionFailure pairs a list of failed ids recorded on the session with
// the sub-reason reported for it.
type sessionFailure struct {
	ids  []BodyPartID
	fail FailInfo
}

func sessionFailures(s *Session) []sessionFailure {
	if s == nil {
		return nil
	}
	return []sessionFailure{
		{s.DecryptedPOPFailures, FailPOPFailed},
		{s.IdentificationFailures, FailBadIdentity},
		{s.IdentityProofV2Failures, FailBadIdentity},
		{s.IdentityProofFailures, FailBadIdentity},
		{s.POPLinkWitnessV2Failures, FailBadRequest},
		{s.POPLinkWitnessFailures, FailBadRequest},
	}
}

// appendStatuses adds the status controls for a classified batch in wire
// order. A pop-required request whose EncryptedPOP cannot be built is
// reported as failed.
func (r *Responder) appendStatuses(b ResponseBuilder, sess *Session, g StatusGroups) ResponseBuilder {
	for _, sf := range sessionFailures(sess) {
		if len(sf.ids) > 0 {
			b = b.WithStatus(Failed(sf.fail, sf.ids...))
		}
	}

	failed := append([]SubRequest(nil), g.Failed...)
	var popOK []SubRequest
	for _, req := range g.POPRequired {
		next, err := r.withEncryptedPOP(b, req)
		if err != nil {
			r.logger.Warn("cannot build encryptedPOP",
				zap.Int64("bodyPartID", int64(req.BodyPartID)), zap.Error(err))
			failed = append(failed, req)
			continue
		}
		b = next
		popOK = append(popOK, req)
	}
	if len(popOK) > 0 {
		fail := FailPOPRequired
		b = b.WithStatus(StatusInfo{
			Status:   StatusPOPRequired,
			BodyList: bodyPartIDs(popOK),
			FailInfo: &fail,
		})
		b = b.WithControl(pkiasn1.OIDCMCResponseInfo, []byte(popOK[0].RequestID))
	}

	if len(g.Pending) > 0 {
		b = b.WithStatus(Pending([]byte(g.Pending[0].RequestID), r.now(), bodyPartIDs(g.Pending)...))
	}

	if len(g.Success) > 0 {
		s := Succeeded(bodyPartIDs(g.Success)...)
		if r.confirmRequired {
			s.Status = StatusConfirmRequired
		}
		b = b.WithStatus(s)
	}

	if len(failed) > 0 {
		b = b.WithStatus(Failed(FailBadRequest, bodyPartIDs(failed)...))
	}
	return b
}

// appendSingleStatus answers a CRMF or PKCS #10 enrollment with one status
// for body part 1.
func (r *Responder) appendSingleStatus(b ResponseBuilder, g StatusGroups) ResponseBuilder {
	const bodyPart BodyPartID = 1
	switch {
	case len(g.Failed) > 0 || len(g.POPRequired) > 0:
		return b.WithStatus(Failed(FailBadRequest, bodyPart))
	case len(g.Pending) > 0:
		return b.WithStatus(Pending([]byte(g.Pending[0].RequestID), r.now(), bodyPart))
	default:
		return b.WithStatus(Succeeded(bodyPart))
	}
}
