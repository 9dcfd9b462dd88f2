package cmc

import (
	"crypto"
	"time"

	"go.uber.org/zap"
)

// ResponderOption configures a Responder. Pass options to NewResponder.
type ResponderOption interface {
	applyToResponder(*Responder) error
}

// responderOption is a concrete ResponderOption backed by a single function.
type responderOption struct {
	f func(*Responder) error
}

func (o *responderOption) applyToResponder(r *Responder) error {
	return o.f(r)
}

// WithCredentialLookup sets where shared secrets for shared-secret
// revocation come from. Without it such revocations fail with
// internalCAError.
func WithCredentialLookup(l CredentialLookup) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if l == nil {
			return newConfigError("credential lookup is nil")
		}
		r.credentials = l
		return nil
	}}
}

// WithRevocationProcessor sets the collaborator that carries out
// revocations. Without it every authorized revocation fails with
// internalCAError.
func WithRevocationProcessor(p RevocationProcessor) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if p == nil {
			return newConfigError("revocation processor is nil")
		}
		r.revoker = p
		return nil
	}}
}

// WithRequestTracker sets the collaborator that answers queryPending.
func WithRequestTracker(t RequestTracker) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if t == nil {
			return newConfigError("request tracker is nil")
		}
		r.tracker = t
		return nil
	}}
}

// WithAuditor sets the audit sink. Defaults to discarding events.
func WithAuditor(a Auditor) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if a == nil {
			return newConfigError("auditor is nil")
		}
		r.auditor = a
		return nil
	}}
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if l == nil {
			return newConfigError("logger is nil")
		}
		r.logger = l
		return nil
	}}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if now == nil {
			return newConfigError("clock is nil")
		}
		r.clock = now
		return nil
	}}
}

// WithHash sets the digest used to sign full responses and to compute
// witnesses. Defaults to SHA-256.
func WithHash(h crypto.Hash) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		if _, err := digestAlgID(h); err != nil {
			return newConfigError("unsupported response digest " + h.String())
		}
		r.hash = h
		return nil
	}}
}

// WithRSAPKCS1 signs full responses with RSA PKCS #1 v1.5 instead of
// RSA-PSS. It has no effect for non-RSA CA keys.
func WithRSAPKCS1() ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		r.pkcs1 = true
		return nil
	}}
}

// WithConfirmRequired reports successful enrollments as confirmRequired,
// so clients must answer with confirmCertAcceptance.
func WithConfirmRequired(required bool) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		r.confirmRequired = required
		return nil
	}}
}

// WithRevocationSignatureVerify controls whether revocations without a
// shared secret must be signed. Defaults to true. Disabling it lets any
// revokeRequest without a shared secret through to the record checks.
func WithRevocationSignatureVerify(verify bool) ResponderOption {
	return &responderOption{f: func(r *Responder) error {
		r.verifyRevocationSignature = verify
		return nil
	}}
}
