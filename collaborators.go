package cmc

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"
)

// CertStatus is the revocation state of a certificate record. Its values
// are the OCSP certificate statuses.
type CertStatus int

const (
	CertValid   CertStatus = ocsp.Good
	CertRevoked CertStatus = ocsp.Revoked
)

func (s CertStatus) String() string {
	if s == CertRevoked {
		return "REVOKED"
	}
	return "VALID"
}

// CertRecord is the CA's record of an issued certificate.
type CertRecord struct {
	Serial      *big.Int
	Certificate *x509.Certificate
	Status      CertStatus
	RevokedAt   time.Time
	Reason      RevocationReason
}

// Revoked reports whether the record is revoked.
func (r *CertRecord) Revoked() bool {
	return r != nil && r.Status == CertRevoked
}

// RecordStore reads certificate records by serial number. ReadRecord
// returns an error matching ErrRecordNotFound for unknown serials.
type RecordStore interface {
	ReadRecord(ctx context.Context, serial *big.Int) (*CertRecord, error)
}

// CredentialLookup resolves the shared secret provisioned for a
// certificate. It returns an error matching ErrCredentialNotFound when none
// exists. The caller owns and zeroes the returned buffer.
type CredentialLookup interface {
	SharedSecretFor(ctx context.Context, serial *big.Int) ([]byte, error)
}

// RequestorAgent is the requestor type of revocations this package submits.
const RequestorAgent = "agent"

// RevocationRequest is the side-effect request submitted to revoke one
// certificate.
type RevocationRequest struct {
	RequestID      string
	Serial         *big.Int
	Reason         RevocationReason
	InvalidityDate time.Time
	Comment        string
	RequestorType  string
	RevokedAt      time.Time
	// Extensions are the CRL entry extensions: reason code, and
	// invalidity date when one was requested.
	Extensions []pkix.Extension
}

// RevocationResult is the verdict of a RevocationProcessor.
type RevocationResult struct {
	Accepted bool
	// Reason explains a rejection.
	Reason string
}

// RevocationProcessor carries out revocations synchronously. A returned
// error is a processing failure; a rejected result is a refusal.
type RevocationProcessor interface {
	SubmitRevocation(ctx context.Context, req *RevocationRequest) (RevocationResult, error)
}

// RequestState is the state of a CA request as seen by queryPending.
type RequestState int

const (
	RequestPending RequestState = iota
	RequestComplete
	RequestRejected
	RequestCanceled
)

// RequestTracker reports the state of CA requests by id. It returns an error
// matching ErrRequestNotFound for unknown ids.
type RequestTracker interface {
	RequestStatus(ctx context.Context, requestID string) (RequestState, error)
}
