package cmc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mozilla.org/pkcs7"
	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// senderNonceSize is the length of the nonces the CA generates.
const senderNonceSize = 16

// Responder builds CMC responses on behalf of one CA. It holds no per-request
// state; everything about a request arrives in the Session, so one Responder
// serves concurrent requests.
type Responder struct {
	authority   Authority
	records     RecordStore
	credentials CredentialLookup
	revoker     RevocationProcessor
	tracker     RequestTracker
	auditor     Auditor
	logger      *zap.Logger
	clock       func() time.Time

	hash                      crypto.Hash
	pkcs1                     bool
	confirmRequired           bool
	verifyRevocationSignature bool
}

// NewResponder returns a Responder signing as authority and reading
// certificate records from records. Configuration errors from every option
// are reported together.
func NewResponder(authority Authority, records RecordStore, opts ...ResponderOption) (*Responder, error) {
	r := &Responder{
		authority:                 authority,
		records:                   records,
		auditor:                   nopAuditor{},
		logger:                    zap.NewNop(),
		clock:                     time.Now,
		hash:                      crypto.SHA256,
		verifyRevocationSignature: true,
	}

	var errs []error
	if authority == nil {
		errs = append(errs, newConfigError("authority is nil"))
	} else if authority.Certificate() == nil || authority.Signer() == nil {
		errs = append(errs, newConfigError("authority has no certificate or key"))
	}
	if records == nil {
		errs = append(errs, newConfigError("record store is nil"))
	}
	for _, opt := range opts {
		if opt == nil {
			errs = append(errs, newConfigError("option is nil"))
			continue
		}
		if err := opt.applyToResponder(r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Responder) now() time.Time {
	return r.clock().UTC()
}

// FullResponse answers an enrollment or revocation batch with a CA-signed
// SignedData carrying a PKIResponse. Failures of individual body parts are
// reported as status controls; an error means nothing could be sent.
func (r *Responder) FullResponse(ctx context.Context, sess *Session, req FullRequest) ([]byte, error) {
	g := Classify(req.SubRequests)
	b := NewResponseBuilder()

	switch req.Type {
	case "", RequestTypeCMC:
		b = r.appendStatuses(b, sess, g)
	case RequestTypeCRMF, RequestTypePKCS10:
		b = r.appendSingleStatus(b, g)
	default:
		return nil, newConfigError(fmt.Sprintf("unknown request type %q", req.Type))
	}

	b = r.appendSessionControls(ctx, b, sess)
	for _, sr := range g.Success {
		b = b.WithCertificate(sr.Certificate)
	}
	b = b.WithCertificate(r.authority.Chain()...)

	return r.signAndAudit(ctx, sess, b)
}

// FailedResponse returns a signed response holding a single failed status
// for bodyList. It answers requests that could not be processed at all.
func (r *Responder) FailedResponse(ctx context.Context, sess *Session, fail FailInfo, statusString string, bodyList ...BodyPartID) ([]byte, error) {
	if len(bodyList) == 0 {
		bodyList = []BodyPartID{0}
	}
	b := NewResponseBuilder().
		WithStatus(FailedWithString(fail, statusString, bodyList...)).
		WithCertificate(r.authority.Chain()...)
	return r.signAndAudit(ctx, sess, b)
}

// SimpleResponse returns a degenerate certificates-only SignedData carrying
// the certificate a getCert control asked for, the issued certificates and
// the CA chain. A getCert that cannot be answered is left out.
func (r *Responder) SimpleResponse(ctx context.Context, sess *Session, issued []*x509.Certificate) ([]byte, error) {
	b := NewResponseBuilder()
	if sess != nil {
		for _, attr := range sess.Controls {
			if !attr.AttrType.Equal(pkiasn1.OIDCMCGetCert) {
				continue
			}
			ctl, err := DecodeControl(attr)
			if err != nil {
				r.logger.Debug("ignoring malformed getCert", zap.Error(err))
				continue
			}
			cert, err := r.findCertificate(ctx, ctl.(*GetCert))
			if err != nil {
				r.logger.Debug("no certificate for getCert", zap.Error(err))
				continue
			}
			b = b.WithCertificate(cert)
		}
	}
	b = b.WithCertificate(issued...)
	b = b.WithCertificate(r.authority.Chain()...)

	var raw bytes.Buffer
	for _, c := range b.Certificates() {
		raw.Write(c.Raw)
	}
	der, err := pkcs7.DegenerateCertificate(raw.Bytes())
	if err != nil {
		r.logger.Error("cannot encode simple response", zap.Error(err))
		return nil, wrapError(CodeEncode, "encoding certificates-only SignedData", err)
	}
	r.auditResponse(ctx, sess, ModeSimple, der, nil)
	return der, nil
}

func (r *Responder) signAndAudit(ctx context.Context, sess *Session, b ResponseBuilder) ([]byte, error) {
	body, err := b.pkiResponse()
	if err != nil {
		r.logger.Error("cannot encode response body", zap.Error(err))
		return nil, err
	}

	signer := NewSigner().
		WithCertificate(r.authority.Certificate()).
		WithPrivateKey(r.authority.Signer()).
		WithHash(r.hash).
		WithContentType(pkiasn1.OIDPKIResponse)
	if r.pkcs1 {
		signer = signer.WithRSAPKCS1()
	}
	for _, c := range b.Certificates() {
		signer = signer.AddCertificate(c)
	}
	der, err := signer.Sign(body)
	if err != nil {
		r.logger.Error("cannot sign response", zap.Error(err))
		return nil, err
	}

	r.auditResponse(ctx, sess, ModeFull, der, statusesOf(b.Controls()))
	return der, nil
}

func (r *Responder) auditResponse(ctx context.Context, sess *Session, mode ResponseMode, der []byte, statuses []Status) {
	r.auditor.Audit(ctx, AuditEvent{
		ID:       uuid.NewString(),
		Type:     AuditCMCResponseSent,
		Time:     r.now(),
		Outcome:  AuditSuccess,
		UserID:   sess.userID(),
		Mode:     mode,
		Payload:  base64.StdEncoding.EncodeToString(der),
		Statuses: statuses,
	})
}

func statusesOf(controls []TaggedAttribute) []Status {
	var out []Status
	for _, c := range controls {
		if !c.AttrType.Equal(pkiasn1.OIDCMCStatusInfoV2) || len(c.AttrValues) == 0 {
			continue
		}
		if s, err := ParseStatusInfo(c.AttrValues[0].FullBytes); err == nil {
			out = append(out, s.Status)
		}
	}
	return out
}

// sessionControlOrder is the order client controls are answered in.
// Controls of other types are decoded but produce no output.
var sessionControlOrder = []asn1.ObjectIdentifier{
	pkiasn1.OIDCMCGetCert,
	pkiasn1.OIDCMCDataReturn,
	pkiasn1.OIDCMCTransactionID,
	pkiasn1.OIDCMCSenderNonce,
	pkiasn1.OIDCMCQueryPending,
	pkiasn1.OIDCMCConfirmCertAcceptance,
	pkiasn1.OIDCMCRevokeRequest,
}

func controlRank(oid asn1.ObjectIdentifier) int {
	for i, o := range sessionControlOrder {
		if o.Equal(oid) {
			return i
		}
	}
	return len(sessionControlOrder)
}

// appendSessionControls answers the client controls on the session. A
// control that fails to decode gets its own failed status; its siblings
// are unaffected.
func (r *Responder) appendSessionControls(ctx context.Context, b ResponseBuilder, sess *Session) ResponseBuilder {
	if sess == nil {
		return b
	}
	for rank := 0; rank <= len(sessionControlOrder); rank++ {
		for _, attr := range sess.Controls {
			if controlRank(attr.AttrType) != rank {
				continue
			}
			ctl, err := DecodeControl(attr)
			if err != nil {
				r.logger.Warn("cannot decode control",
					zap.String("type", attr.AttrType.String()),
					zap.Int64("bodyPartID", attr.BodyPartID),
					zap.Error(err))
				b = b.WithStatus(Failed(FailBadRequest, BodyPartID(attr.BodyPartID)))
				continue
			}
			b = r.handleControl(ctx, b, sess, ctl)
		}
	}
	return b
}

func (r *Responder) handleControl(ctx context.Context, b ResponseBuilder, sess *Session, ctl Control) ResponseBuilder {
	switch c := ctl.(type) {
	case *GetCert:
		cert, err := r.findCertificate(ctx, c)
		if err != nil {
			r.logger.Warn("cannot answer getCert", zap.Error(err))
			return b.WithStatus(Failed(FailBadCertID, c.BodyPartID()))
		}
		return b.WithCertificate(cert)

	case *DataReturn:
		return b.WithControl(pkiasn1.OIDCMCDataReturn, octetStrings(c.Data)...)

	case *TransactionID:
		values := make([]any, 0, len(c.Values))
		for _, v := range c.Values {
			values = append(values, v)
		}
		return b.WithControl(pkiasn1.OIDCMCTransactionID, values...)

	case *SenderNonce:
		b = b.WithControl(pkiasn1.OIDCMCRecipientNonce, octetStrings(c.Nonces)...)
		nonce := make([]byte, senderNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			r.logger.Error("cannot generate sender nonce", zap.Error(err))
			return b
		}
		return b.WithControl(pkiasn1.OIDCMCSenderNonce, nonce)

	case *QueryPending:
		return r.handleQueryPending(ctx, b, c)

	case *ConfirmCertAcceptance:
		return r.handleConfirmCertAcceptance(ctx, b, c)

	case *RevokeRequest:
		return r.handleRevokeRequest(ctx, b, sess, c)

	case *Identification, *IdentityProof, *IdentityProofV2, *PopLinkWitness, *PopLinkWitnessV2:
		// Checked before the response is built; failures arrive on the
		// session.
		return b

	case *UnsupportedControl:
		r.logger.Debug("ignoring unsupported control", zap.String("type", c.Type.String()))
		return b

	default:
		return b
	}
}

// findCertificate returns the certificate a getCert control names. The
// issuer must be this CA.
func (r *Responder) findCertificate(ctx context.Context, c *GetCert) (*x509.Certificate, error) {
	name, ok := c.IssuerName()
	if !ok {
		return nil, newError(CodeDecode, "getCert issuer is not a directoryName")
	}
	if !samePrincipal(name, r.authority.Certificate().RawSubject) {
		return nil, newError(CodeRecordNotFound, "getCert issuer is not this CA")
	}
	rec, err := r.records.ReadRecord(ctx, c.Serial)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Certificate == nil {
		return nil, newError(CodeRecordNotFound, "certificate record has no certificate")
	}
	return rec.Certificate, nil
}

func (r *Responder) handleQueryPending(ctx context.Context, b ResponseBuilder, c *QueryPending) ResponseBuilder {
	id := c.BodyPartID()
	if r.tracker == nil {
		return b.WithStatus(FailedWithString(FailInternalCAError, "request tracking is not configured", id))
	}

	var pending, complete, failed [][]byte
	for _, token := range c.Tokens {
		state, err := r.tracker.RequestStatus(ctx, string(token))
		switch {
		case err != nil:
			if !errors.Is(err, ErrRequestNotFound) {
				r.logger.Warn("cannot read request status", zap.ByteString("token", token), zap.Error(err))
			}
			failed = append(failed, token)
		case state == RequestPending:
			pending = append(pending, token)
		case state == RequestComplete:
			complete = append(complete, token)
		default:
			failed = append(failed, token)
		}
	}

	if len(pending) > 0 {
		b = b.WithStatus(Pending(pending[0], r.now(), id))
	}
	if len(complete) > 0 {
		b = b.WithStatus(Succeeded(id))
	}
	if len(failed) > 0 {
		b = b.WithStatus(Failed(FailBadRequest, id))
	}
	return b
}

func (r *Responder) handleConfirmCertAcceptance(ctx context.Context, b ResponseBuilder, c *ConfirmCertAcceptance) ResponseBuilder {
	id := c.BodyPartID()
	if r.confirmed(ctx, c) {
		return b.WithStatus(Succeeded(id))
	}
	return b.WithStatus(Failed(FailBadCertID, id))
}

func (r *Responder) confirmed(ctx context.Context, c *ConfirmCertAcceptance) bool {
	if len(c.Issuers) == 0 || c.Serial == nil {
		return false
	}
	caName := r.authority.Certificate().RawSubject
	name, ok := directoryName(c.Issuers[0])
	if !ok || !samePrincipal(name, caName) {
		return false
	}
	rec, err := r.records.ReadRecord(ctx, c.Serial)
	if err != nil || rec == nil || rec.Certificate == nil {
		return false
	}
	return samePrincipal(rec.Certificate.RawIssuer, caName)
}

func octetStrings(values [][]byte) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// Response is a verified full response as a client sees it.
type Response struct {
	Controls     []TaggedAttribute
	Certificates []*x509.Certificate
	// Signer is the certificate the response was signed with.
	Signer *x509.Certificate
}

// ParseResponse verifies a full response and decodes its PKIResponse.
// Without trust options the signer must chain to a system root; pass
// WithTrustRoots with the CA certificate to pin it.
func ParseResponse(der []byte, opts ...VerifyOption) (*Response, error) {
	sd, err := ParseSignedData(der)
	if err != nil {
		return nil, err
	}
	if !sd.ContentType().Equal(pkiasn1.OIDPKIResponse) {
		return nil, newError(CodeContentTypeMismatch,
			fmt.Sprintf("expected id-cct-PKIResponse, got %s", sd.ContentType()))
	}
	if err := sd.Verify(opts...); err != nil {
		return nil, err
	}
	content, err := sd.Content()
	if err != nil {
		return nil, err
	}

	var body pkiasn1.PKIResponse
	rest, err := asn1.Unmarshal(content, &body)
	if err != nil {
		return nil, wrapError(CodeDecode, "decoding PKIResponse", err)
	}
	if len(rest) > 0 {
		return nil, newError(CodeDecode, "trailing data after PKIResponse")
	}

	resp := &Response{
		Controls:     body.ControlSequence,
		Certificates: sd.Certificates(),
	}
	if signers := sd.Signers(); len(signers) > 0 {
		resp.Signer = signers[0].Certificate
	}
	return resp, nil
}

// Find returns the controls of type oid in response order.
func (r *Response) Find(oid asn1.ObjectIdentifier) []TaggedAttribute {
	var out []TaggedAttribute
	for _, c := range r.Controls {
		if c.AttrType.Equal(oid) {
			out = append(out, c)
		}
	}
	return out
}

// Statuses decodes every CMCStatusInfoV2 control in response order.
func (r *Response) Statuses() ([]StatusInfo, error) {
	var out []StatusInfo
	for _, c := range r.Find(pkiasn1.OIDCMCStatusInfoV2) {
		if len(c.AttrValues) == 0 {
			return nil, newError(CodeDecode, "statusInfoV2 control has no value")
		}
		s, err := ParseStatusInfo(c.AttrValues[0].FullBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseSimpleResponse returns the certificates of a simple response.
func ParseSimpleResponse(der []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, wrapError(CodeParse, "parsing certificates-only SignedData", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, newError(CodeMissingCertificate, "simple response carries no certificates")
	}
	return p7.Certificates, nil
}
