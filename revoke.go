package cmc

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

type revokeState int

const (
	stateStart revokeState = iota
	stateAuthCheck
	stateSharedSecret
	stateSignature
	stateCertLookup
	statePrincipalCheck
	stateRevoke
	stateDone
)

func (s revokeState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateAuthCheck:
		return "authCheck"
	case stateSharedSecret:
		return "sharedSecret"
	case stateSignature:
		return "signature"
	case stateCertLookup:
		return "certLookup"
	case statePrincipalCheck:
		return "principalCheck"
	case stateRevoke:
		return "revoke"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("revokeState(%d)", int(s))
	}
}

type authMode int

const (
	authSignedRequest authMode = iota
	authSharedSecret
)

func (m authMode) String() string {
	if m == authSharedSecret {
		return "shared-secret"
	}
	return "signed-request"
}

// revocationCase is the working state of one revokeRequest control.
type revocationCase struct {
	ctl    *RevokeRequest
	sess   *Session
	mode   authMode
	reason RevocationReason

	verified bool
	record   *CertRecord

	subject   string
	requestID string
	approval  string
	message   string
	outcome   AuditOutcome
	status    StatusInfo
}

func (c *revocationCase) bodyPart() BodyPartID { return c.ctl.BodyPartID() }

func (c *revocationCase) fail(fail FailInfo, msg string) revokeState {
	c.outcome = AuditFailure
	c.message = msg
	c.status = Failed(fail, c.bodyPart())
	return stateDone
}

// failWithString is fail with msg also sent to the client.
func (c *revocationCase) failWithString(fail FailInfo, msg string) revokeState {
	next := c.fail(fail, msg)
	c.status.StatusString = msg
	return next
}

func (c *revocationCase) succeed(msg string) revokeState {
	c.outcome = AuditSuccess
	c.message = msg
	c.status = Succeeded(c.bodyPart())
	return stateDone
}

// wipe clears the submitted secret on every exit path.
func (c *revocationCase) wipe() {
	clear(c.ctl.SharedSecret)
}

// handleRevokeRequest runs the revocation state machine for one control and
// appends its single status.
func (r *Responder) handleRevokeRequest(ctx context.Context, b ResponseBuilder, sess *Session, ctl *RevokeRequest) ResponseBuilder {
	c := &revocationCase{ctl: ctl, sess: sess, approval: "rejected"}
	defer c.wipe()

	log := r.logger.With(
		zap.String("serial", serialString(ctl.Serial)),
		zap.Int64("bodyPartID", int64(ctl.BodyPartID())),
	)
	for state := stateStart; state != stateDone; {
		next := r.step(ctx, c, state)
		log.Debug("revocation transition",
			zap.Stringer("state", state),
			zap.Stringer("next", next),
			zap.Stringer("mode", c.mode))
		state = next
	}
	if c.outcome == AuditFailure {
		log.Warn("revocation refused", zap.String("reason", c.message))
	}

	r.auditor.Audit(ctx, AuditEvent{
		ID:             uuid.NewString(),
		Type:           AuditCertStatusChangeRequestProcessed,
		Time:           r.now(),
		Outcome:        c.outcome,
		UserID:         sess.userID(),
		SubjectID:      c.subject,
		RequestID:      c.requestID,
		Serial:         ctl.Serial,
		RequestType:    "revoke",
		Reason:         c.reason,
		ApprovalStatus: c.approval,
		Message:        c.message,
	})
	return b.WithStatus(c.status)
}

func (r *Responder) step(ctx context.Context, c *revocationCase, s revokeState) revokeState {
	switch s {
	case stateStart:
		c.reason = c.ctl.Reason.RevocationReason()
		if c.ctl.SharedSecret != nil {
			c.mode = authSharedSecret
		}
		return stateAuthCheck

	case stateAuthCheck:
		switch {
		case c.mode == authSharedSecret:
			return stateSharedSecret
		case !r.verifyRevocationSignature:
			c.verified = true
			return stateCertLookup
		default:
			return stateSignature
		}

	case stateSharedSecret:
		return r.checkSharedSecret(ctx, c)

	case stateSignature:
		return r.checkSignature(ctx, c)

	case stateCertLookup:
		return r.lookupRecord(ctx, c)

	case statePrincipalCheck:
		return r.checkPrincipal(c)

	case stateRevoke:
		return r.revoke(ctx, c)

	default:
		return stateDone
	}
}

func (r *Responder) checkSharedSecret(ctx context.Context, c *revocationCase) revokeState {
	if r.credentials == nil {
		return c.fail(FailInternalCAError, "shared secret lookup is not configured")
	}
	expected, err := r.credentials.SharedSecretFor(ctx, c.ctl.Serial)
	if err != nil {
		clear(expected)
		return c.fail(FailBadIdentity, "shared secret not found: "+err.Error())
	}
	if expected == nil {
		return c.fail(FailBadIdentity, "shared secret not found")
	}
	if !compareSecrets(c.ctl.SharedSecret, expected) {
		return c.fail(FailBadIdentity, "client and server shared secret are not the same")
	}
	c.verified = true
	return stateCertLookup
}

func (r *Responder) checkSignature(ctx context.Context, c *revocationCase) revokeState {
	if c.sess.authManager() == AuthManagerUserSigned {
		if len(c.sess.SignerPrincipal) == 0 {
			return c.fail(FailBadMessageCheck, "missing CMC signer principal")
		}
		c.verified = true
		return stateCertLookup
	}
	if err := r.verifyLegacyRevokeRequest(ctx, c.sess, c.ctl); err != nil {
		return c.fail(FailBadMessageCheck, "revocation request signature: "+err.Error())
	}
	c.verified = true
	return stateCertLookup
}

// verifyLegacyRevokeRequest checks the SignedData that older clients put in
// the OtherMsg sharing the control's body-part id. Its content is a tagged
// revokeRequest naming the same serial, signed by a certificate that is
// current and not revoked.
func (r *Responder) verifyLegacyRevokeRequest(ctx context.Context, sess *Session, ctl *RevokeRequest) error {
	var msg *OtherMsg
	if sess != nil {
		for i := range sess.OtherMsgs {
			if BodyPartID(sess.OtherMsgs[i].BodyPartID) == ctl.BodyPartID() {
				msg = &sess.OtherMsgs[i]
				break
			}
		}
	}
	if msg == nil {
		return newError(CodeMissingCertificate, "no signed request with a matching body part id")
	}

	sd, err := ParseSignedData(msg.OtherMsgValue.FullBytes)
	if err != nil {
		return err
	}
	signers := sd.Signers()
	if len(signers) == 0 {
		return newError(CodeMissingCertificate, "signed request has no signers")
	}
	now := r.now()
	if err := sd.Verify(WithNoChainValidation(), WithVerifyTime(now)); err != nil {
		return err
	}

	for _, si := range signers {
		cert := si.Certificate
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return newError(CodeCertificateChain,
				fmt.Sprintf("signing certificate %s is outside its validity period", serialString(cert.SerialNumber)))
		}
		rec, err := r.records.ReadRecord(ctx, cert.SerialNumber)
		switch {
		case errors.Is(err, ErrRecordNotFound):
		case err != nil:
			return wrapError(CodeCertificateChain, "checking signing certificate status", err)
		case rec.Revoked():
			return newError(CodeCertificateChain, "signing certificate is revoked")
		}
	}

	content, err := sd.Content()
	if err != nil {
		return err
	}
	var attr TaggedAttribute
	if rest, err := asn1.Unmarshal(content, &attr); err != nil || len(rest) > 0 {
		return newError(CodeDecode, "signed content is not a tagged attribute")
	}
	if !attr.AttrType.Equal(pkiasn1.OIDCMCRevokeRequest) {
		return newError(CodeContentTypeMismatch,
			fmt.Sprintf("signed content is %s, not a revokeRequest", attr.AttrType))
	}
	signed, err := DecodeControl(attr)
	if err != nil {
		return err
	}
	inner := signed.(*RevokeRequest)
	defer clear(inner.SharedSecret)
	if inner.Serial.Cmp(ctl.Serial) != 0 {
		return newError(CodeAttributeInvalid, "signed request names a different serial number")
	}
	return nil
}

func (r *Responder) lookupRecord(ctx context.Context, c *revocationCase) revokeState {
	rec, err := r.records.ReadRecord(ctx, c.ctl.Serial)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return c.fail(FailBadCertID, "the certificate is not found")
	case err != nil:
		return c.fail(FailInternalCAError, "reading certificate record: "+err.Error())
	case rec == nil:
		return c.fail(FailBadCertID, "the certificate is not found")
	}
	c.record = rec
	if rec.Certificate != nil {
		c.subject = principalOrEmpty(rec.Certificate.RawSubject)
	}
	if rec.Revoked() {
		return c.succeed("certificate already revoked")
	}
	return statePrincipalCheck
}

func (r *Responder) checkPrincipal(c *revocationCase) revokeState {
	cert := c.record.Certificate
	if cert == nil {
		return c.fail(FailInternalCAError, "certificate record has no certificate")
	}
	switch {
	case c.mode == authSharedSecret:
		// The session issuer covers the whole request; each control's own
		// issuer must agree with the record too, so one batch cannot borrow
		// another control's issuer.
		var issuer []byte
		if c.sess != nil {
			issuer = c.sess.IssuerPrincipal
		}
		if !samePrincipal(cert.RawIssuer, issuer) ||
			len(c.ctl.Issuer) > 0 && !samePrincipal(cert.RawIssuer, c.ctl.Issuer) {
			return c.failWithString(FailBadIdentity,
				"certificate issuer DN and revocation request issuer DN do not match")
		}
	case c.sess.authManager() == AuthManagerUserSigned:
		if !samePrincipal(cert.RawSubject, c.sess.SignerPrincipal) {
			return c.failWithString(FailBadIdentity, "certificate principal and signer do not match")
		}
	}
	return stateRevoke
}

func (r *Responder) revoke(ctx context.Context, c *revocationCase) revokeState {
	if !c.verified {
		return c.fail(FailInternalCAError, "revocation reached without authorization")
	}
	if r.revoker == nil {
		return c.fail(FailInternalCAError, "revocation processor is not configured")
	}

	req, err := r.revocationRequest(c)
	if err != nil {
		return c.fail(FailInternalCAError, err.Error())
	}
	c.requestID = req.RequestID

	res, err := r.revoker.SubmitRevocation(ctx, req)
	if err != nil {
		return c.failWithString(FailBadRequest, "revocation request failed: "+err.Error())
	}
	if !res.Accepted {
		return c.failWithString(FailBadRequest, "revocation request rejected: "+res.Reason)
	}
	c.approval = "complete"
	return c.succeed("certificate revoked")
}

func (r *Responder) revocationRequest(c *revocationCase) (*RevocationRequest, error) {
	req := &RevocationRequest{
		RequestID:      uuid.NewString(),
		Serial:         c.ctl.Serial,
		Reason:         c.reason,
		InvalidityDate: c.ctl.InvalidityDate,
		Comment:        c.ctl.Comment,
		RequestorType:  RequestorAgent,
		RevokedAt:      r.now(),
	}

	reasonExt, err := c.reason.crlEntryExtension()
	if err != nil {
		return nil, err
	}
	req.Extensions = append(req.Extensions, reasonExt)

	if !c.ctl.InvalidityDate.IsZero() {
		dateDER, err := asn1.MarshalWithParams(c.ctl.InvalidityDate.UTC(), "generalized")
		if err != nil {
			return nil, wrapError(CodeEncode, "encoding invalidity date extension", err)
		}
		req.Extensions = append(req.Extensions, pkix.Extension{Id: pkiasn1.OIDExtensionInvalidityDate, Value: dateDER})
	}
	return req, nil
}

func serialString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return "0x" + n.Text(16)
}
