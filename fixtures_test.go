package cmc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testCA is an RSA CA with helpers to issue end-entity certificates.
type testCA struct {
	t         *testing.T
	cert      *x509.Certificate
	key       *rsa.PrivateKey
	authority *LocalAuthority
}

// testCASeq keeps every test CA subject distinct, so a second CA is a
// foreign issuer to the first.
var testCASeq atomic.Int64

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: fmt.Sprintf("Test CA %d", testCASeq.Add(1)), Organization: []string{"Example"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	auth, err := NewLocalAuthority(cert, key)
	require.NoError(t, err)
	return &testCA{t: t, cert: cert, key: key, authority: auth}
}

// issue returns an ECDSA end-entity certificate valid around now.
func (ca *testCA) issue(serial int64, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	return ca.issueWindow(serial, cn, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

func (ca *testCA) issueWindow(serial int64, cn string, notBefore, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey) {
	ca.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(ca.t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(ca.t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(ca.t, err)
	return cert, key
}

// parse verifies a full response against the CA.
func (ca *testCA) parse(der []byte) *Response {
	ca.t.Helper()
	resp, err := ParseResponse(der, WithTrustRoots(poolOf(ca.cert)))
	require.NoError(ca.t, err)
	return resp
}

func (ca *testCA) statuses(der []byte) []StatusInfo {
	ca.t.Helper()
	statuses, err := ca.parse(der).Statuses()
	require.NoError(ca.t, err)
	return statuses
}

type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]*CertRecord
	err  error
}

func newFakeRecords(certs ...*x509.Certificate) *fakeRecords {
	f := &fakeRecords{recs: map[string]*CertRecord{}}
	for _, c := range certs {
		f.add(c, CertValid)
	}
	return f
}

func (f *fakeRecords) add(cert *x509.Certificate, status CertStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[cert.SerialNumber.String()] = &CertRecord{Serial: cert.SerialNumber, Certificate: cert, Status: status}
}

func (f *fakeRecords) ReadRecord(_ context.Context, serial *big.Int) (*CertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recs[serial.String()]
	if !ok {
		return nil, wrapError(CodeRecordNotFound, "serial "+serial.String(), ErrRecordNotFound)
	}
	cp := *rec
	return &cp, nil
}

// fakeCredentials hands out copies of the provisioned secrets and keeps
// them so tests can check they were zeroed.
type fakeCredentials struct {
	mu      sync.Mutex
	secrets map[string][]byte
	issued  [][]byte
}

func (f *fakeCredentials) SharedSecretFor(_ context.Context, serial *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[serial.String()]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := append([]byte(nil), s...)
	f.issued = append(f.issued, cp)
	return cp, nil
}

type fakeRevoker struct {
	mu     sync.Mutex
	reqs   []*RevocationRequest
	result RevocationResult
	err    error
}

func (f *fakeRevoker) SubmitRevocation(_ context.Context, req *RevocationRequest) (RevocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return RevocationResult{}, f.err
	}
	return f.result, nil
}

func acceptingRevoker() *fakeRevoker {
	return &fakeRevoker{result: RevocationResult{Accepted: true}}
}

type fakeTracker map[string]RequestState

func (f fakeTracker) RequestStatus(_ context.Context, id string) (RequestState, error) {
	s, ok := f[id]
	if !ok {
		return 0, fmt.Errorf("request %s: %w", id, ErrRequestNotFound)
	}
	return s, nil
}

type auditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *auditRecorder) Audit(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *auditRecorder) ofType(typ AuditEventType) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEvent
	for _, ev := range a.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestResponder(t *testing.T, ca *testCA, records RecordStore, opts ...ResponderOption) *Responder {
	t.Helper()
	r, err := NewResponder(ca.authority, records, opts...)
	require.NoError(t, err)
	return r
}

// sessionWith encodes controls onto a fresh session.
func sessionWith(t *testing.T, controls ...Control) *Session {
	t.Helper()
	sess := &Session{UserID: "tester"}
	for _, c := range controls {
		attr, err := EncodeControl(c)
		require.NoError(t, err)
		sess.Controls = append(sess.Controls, attr)
	}
	return sess
}
