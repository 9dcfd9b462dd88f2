package cmc

import (
	"context"
	"math/big"
	"time"
)

// AuditEventType names an audit record.
type AuditEventType string

const (
	// AuditCMCResponseSent is recorded once per encoded response.
	AuditCMCResponseSent AuditEventType = "CMC_RESPONSE_SENT"
	// AuditCertStatusChangeRequestProcessed is recorded once per terminal
	// revocation decision.
	AuditCertStatusChangeRequestProcessed AuditEventType = "CERT_STATUS_CHANGE_REQUEST_PROCESSED"
)

// AuditOutcome is the result recorded on an audit event.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "Success"
	AuditFailure AuditOutcome = "Failure"
)

// ResponseMode says which envelope a response used.
type ResponseMode string

const (
	ModeSimple ResponseMode = "simple"
	ModeFull   ResponseMode = "full"
)

// AuditEvent is one audit record. Fields that do not apply to the event
// type are left empty.
type AuditEvent struct {
	ID      string
	Type    AuditEventType
	Time    time.Time
	Outcome AuditOutcome
	UserID  string

	// Revocation fields.
	SubjectID      string
	RequestID      string
	Serial         *big.Int
	RequestType    string
	Reason         RevocationReason
	ApprovalStatus string
	Message        string

	// Response fields. Payload is the base64 encoded response.
	Mode     ResponseMode
	Payload  string
	Statuses []Status
}

// Auditor receives audit events. Implementations must be safe for
// concurrent use and must not block for long.
type Auditor interface {
	Audit(ctx context.Context, ev AuditEvent)
}

// AuditorFunc adapts a function to Auditor.
type AuditorFunc func(ctx context.Context, ev AuditEvent)

// Audit calls f.
func (f AuditorFunc) Audit(ctx context.Context, ev AuditEvent) {
	f(ctx, ev)
}

type nopAuditor struct{}

func (nopAuditor) Audit(context.Context, AuditEvent) {}
