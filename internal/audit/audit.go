// Package audit writes CMC audit events as structured log records.
package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mdean75/cmc"
)

// Logger is a cmc.Auditor that writes one Info record per event to a zap
// logger named "audit".
type Logger struct {
	log *zap.Logger
}

var _ cmc.Auditor = (*Logger)(nil)

func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{log: l.Named("audit")}
}

func (a *Logger) Audit(_ context.Context, ev cmc.AuditEvent) {
	fields := []zap.Field{
		zap.String("eventID", ev.ID),
		zap.Time("time", ev.Time),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("subjectID", ev.UserID),
	}

	switch ev.Type {
	case cmc.AuditCertStatusChangeRequestProcessed:
		fields = append(fields,
			zap.String("requesterID", ev.SubjectID),
			zap.String("requestID", ev.RequestID),
			zap.String("requestType", ev.RequestType),
			zap.String("revokeReason", ev.Reason.String()),
			zap.String("approvalStatus", ev.ApprovalStatus),
		)
		if ev.Serial != nil {
			fields = append(fields, zap.String("serial", "0x"+ev.Serial.Text(16)))
		}
		if ev.Message != "" {
			fields = append(fields, zap.String("message", ev.Message))
		}
	case cmc.AuditCMCResponseSent:
		fields = append(fields,
			zap.String("mode", string(ev.Mode)),
			zap.Array("statuses", statusList(ev.Statuses)),
			zap.String("payload", ev.Payload),
		)
	}

	a.log.Info(string(ev.Type), fields...)
}

type statusList []cmc.Status

func (l statusList) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, s := range l {
		enc.AppendString(s.String())
	}
	return nil
}
