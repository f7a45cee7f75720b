package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/store"
)

// Audit event categories, after NIST SP 800-92.
const (
	categoryAuthentication = "authentication"
	categoryConnection     = "connection"
	categoryCommand        = "command"
	categoryTransfer       = "transfer"
	categoryFanout         = "fanout"
)

// Outcomes recorded on audit events.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeDenied  = "denied"
)

const auditSource = "go-winops"

// AuditEvent is one audit record. It is logged as the "event" attribute of
// a message named "audit".
type AuditEvent struct {
	Time          time.Time      `json:"time"`
	Category      string         `json:"category"`
	Action        string         `json:"action"`
	Outcome       string         `json:"outcome"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	Connection    string         `json:"connection,omitempty"`
	Host          string         `json:"host,omitempty"`
	User          string         `json:"user,omitempty"`
	Error         string         `json:"error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Auditor writes audit events for one Manager. All events share a
// correlation ID. A nil Auditor, or one with a nil logger, drops them.
type Auditor struct {
	logger        *slog.Logger
	correlationID string
}

// NewAuditor returns an Auditor with a fresh correlation ID.
func NewAuditor(logger *slog.Logger) *Auditor {
	return &Auditor{logger: logger, correlationID: uuid.NewString()}
}

// CorrelationID is the ID carried by every event.
func (a *Auditor) CorrelationID() string {
	return a.correlationID
}

// record logs an event about rec, which may be nil. A nil err is a success;
// authentication errors are denials and logged at warn like other failures.
// kv are key/value pairs added to Details.
func (a *Auditor) record(category, action string, rec *store.Record, err error, kv ...any) {
	if a == nil || a.logger == nil {
		return
	}
	ev := AuditEvent{
		Time:          time.Now().UTC(),
		Category:      category,
		Action:        action,
		Outcome:       outcomeSuccess,
		Source:        auditSource,
		CorrelationID: a.correlationID,
	}
	if rec != nil {
		ev.Connection, ev.Host, ev.User = rec.Name, rec.Hostname, rec.Username
	}
	if len(kv) > 0 {
		ev.Details = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				ev.Details[k] = kv[i+1]
			}
		}
	}

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		ev.Error = err.Error()
		ev.Outcome = outcomeFailure
		if errors.Is(err, remote.ErrAuthentication) {
			ev.Outcome = outcomeDenied
		}
	}
	a.logger.Log(context.Background(), level, "audit", "event", ev)
}
