// Package audit records who ran what against the diagnostic engine. One
// record is written per orchestrated run; individual check failures are not
// audit events.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcome values for audit records.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Record is a single audit entry.
type Record struct {
	Action    string                 `json:"action"`
	Outcome   string                 `json:"outcome"`
	UserID    string                 `json:"user_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Logger is the audit sink contract. Implementations must not block
// indefinitely; the engine treats audit failures as log-worthy, not fatal.
type Logger interface {
	Log(ctx context.Context, rec Record) error
}

type zapAudit struct {
	z *zap.Logger
}

// NewZapLogger writes audit records as structured log entries.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapAudit{z: z}
}

func (a *zapAudit) Log(_ context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	fields := []zap.Field{
		zap.String("action", rec.Action),
		zap.String("outcome", rec.Outcome),
		zap.Time("timestamp", rec.Timestamp),
	}
	if rec.UserID != "" {
		fields = append(fields, zap.String("user_id", rec.UserID))
	}
	if rec.RequestID != "" {
		fields = append(fields, zap.String("request_id", rec.RequestID))
	}
	if len(rec.Details) > 0 {
		fields = append(fields, zap.Any("details", rec.Details))
	}
	a.z.Info("audit", fields...)
	return nil
}

type nopAudit struct{}

// NewNop returns an audit sink that discards records.
func NewNop() Logger { return nopAudit{} }

func (nopAudit) Log(context.Context, Record) error { return nil }
