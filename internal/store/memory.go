// Package store provides certificate record, shared secret, revocation and
// request tracking backends for the CMC responder.
package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mdean75/cmc"
)

// Memory keeps everything in process. It is safe for concurrent use.
type Memory struct {
	protection *rsa.PrivateKey
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.RWMutex
	records     map[string]*cmc.CertRecord
	tokens      map[string]string
	requests    map[string]cmc.RequestState
	revocations []cmc.RevocationRequest
}

// NewMemory returns an empty store. protection unwraps stored shared tokens
// and may be nil when shared-secret revocation is not used.
func NewMemory(protection *rsa.PrivateKey, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		protection: protection,
		logger:     logger,
		now:        time.Now,
		records:    make(map[string]*cmc.CertRecord),
		tokens:     make(map[string]string),
		requests:   make(map[string]cmc.RequestState),
	}
}

// PutCertificate records cert as issued and valid.
func (m *Memory) PutCertificate(_ context.Context, cert *x509.Certificate) error {
	if cert == nil || cert.SerialNumber == nil {
		return fmt.Errorf("certificate without serial number")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[serialKey(cert.SerialNumber)] = &cmc.CertRecord{
		Serial:      new(big.Int).Set(cert.SerialNumber),
		Certificate: cert,
		Status:      cmc.CertValid,
	}
	return nil
}

// PutSharedToken stores a token produced by cmc.SealSharedToken for serial.
func (m *Memory) PutSharedToken(_ context.Context, serial *big.Int, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[serialKey(serial)] = token
	return nil
}

// PutRequest sets the state queryPending reports for id.
func (m *Memory) PutRequest(_ context.Context, id string, state cmc.RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[id] = state
	return nil
}

// ReadRecord implements cmc.RecordStore. The returned record is a copy.
func (m *Memory) ReadRecord(_ context.Context, serial *big.Int) (*cmc.CertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[serialKey(serial)]
	if !ok {
		return nil, fmt.Errorf("serial %s: %w", serialKey(serial), cmc.ErrRecordNotFound)
	}
	cp := *rec
	return &cp, nil
}

// SharedSecretFor implements cmc.CredentialLookup.
func (m *Memory) SharedSecretFor(_ context.Context, serial *big.Int) ([]byte, error) {
	m.mu.RLock()
	token, ok := m.tokens[serialKey(serial)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("serial %s: %w", serialKey(serial), cmc.ErrCredentialNotFound)
	}
	return cmc.OpenSharedToken(m.protection, token)
}

// SubmitRevocation implements cmc.RevocationProcessor by marking the record
// revoked. Unknown and already revoked serials are rejected.
func (m *Memory) SubmitRevocation(_ context.Context, req *cmc.RevocationRequest) (cmc.RevocationResult, error) {
	if req == nil || req.Serial == nil {
		return cmc.RevocationResult{}, fmt.Errorf("revocation request without serial number")
	}
	key := serialKey(req.Serial)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	switch {
	case !ok:
		return cmc.RevocationResult{Reason: "unknown certificate"}, nil
	case rec.Revoked():
		return cmc.RevocationResult{Reason: "certificate already revoked"}, nil
	}

	at := req.RevokedAt
	if at.IsZero() {
		at = m.now()
	}
	rec.Status = cmc.CertRevoked
	rec.RevokedAt = at
	rec.Reason = req.Reason
	m.revocations = append(m.revocations, *req)

	m.logger.Info("certificate revoked",
		zap.String("serial", key),
		zap.String("reason", req.Reason.String()),
		zap.String("requestID", req.RequestID))
	return cmc.RevocationResult{Accepted: true}, nil
}

// RequestStatus implements cmc.RequestTracker.
func (m *Memory) RequestStatus(_ context.Context, id string) (cmc.RequestState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.requests[id]
	if !ok {
		return 0, fmt.Errorf("request %q: %w", id, cmc.ErrRequestNotFound)
	}
	return state, nil
}

// Revocations returns the accepted revocation requests in submission order.
func (m *Memory) Revocations() []cmc.RevocationRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]cmc.RevocationRequest(nil), m.revocations...)
}

// Revocation returns the accepted revocation request of serial.
func (m *Memory) Revocation(_ context.Context, serial *big.Int) (*cmc.RevocationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.revocations {
		if m.revocations[i].Serial.Cmp(serial) == 0 {
			req := m.revocations[i]
			return &req, nil
		}
	}
	return nil, fmt.Errorf("serial %s has no revocation: %w", serialKey(serial), cmc.ErrRecordNotFound)
}

func serialKey(serial *big.Int) string {
	if serial == nil {
		return "<nil>"
	}
	return serial.Text(16)
}

// Backend is everything the responder consumes from a store, plus the
// writes used to seed it.
type Backend interface {
	cmc.RecordStore
	cmc.CredentialLookup
	cmc.RevocationProcessor
	cmc.RequestTracker

	PutCertificate(ctx context.Context, cert *x509.Certificate) error
	PutSharedToken(ctx context.Context, serial *big.Int, token string) error
	PutRequest(ctx context.Context, id string, state cmc.RequestState) error
	Revocation(ctx context.Context, serial *big.Int) (*cmc.RevocationRequest, error)
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Redis)(nil)
)
