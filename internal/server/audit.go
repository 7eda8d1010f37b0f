package server

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditAction is the kind of event written to the audit log.
type AuditAction string

const (
	AuditSignUp       AuditAction = "sign_up"
	AuditSignIn       AuditAction = "sign_in"
	AuditSignOut      AuditAction = "sign_out"
	AuditUpload       AuditAction = "upload"
	AuditCreateFolder AuditAction = "create_folder"
	AuditDelete       AuditAction = "delete"
	AuditMove         AuditAction = "move"
	AuditDownload     AuditAction = "download"
)

// maxAuditField caps the username and address columns of the audit log.
const maxAuditField = 255

// AuditEvent is one audit log entry.
type AuditEvent struct {
	Action   AuditAction
	Username string
	IP       string
	Resource string
	Success  bool
	Detail   string
}

// AuditRecorder persists audit events. Recording never fails the request.
type AuditRecorder interface {
	Record(ctx context.Context, e AuditEvent)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEvent) {}

// AuditLog writes events to the audit_log table.
type AuditLog struct {
	db  *sql.DB
	log *zap.Logger
}

// NewAuditLog returns an AuditLog using db.
func NewAuditLog(db *sql.DB, log *zap.Logger) *AuditLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLog{db: db, log: log}
}

// Record inserts the event. The insert outlives a cancelled request so that
// aborted downloads are still logged.
func (a *AuditLog) Record(ctx context.Context, e AuditEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, action, username, ip_address, resource, success, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.New(),
		time.Now().UTC(),
		string(e.Action),
		nullString(auditText(e.Username, maxAuditField)),
		auditText(e.IP, maxAuditField),
		nullString(auditText(e.Resource, 0)),
		e.Success,
		nullString(auditText(e.Detail, 0)),
	)
	if err != nil {
		a.log.Warn("audit insert failed",
			zap.String("action", string(e.Action)),
			zap.String("username", e.Username),
			zap.Error(err))
	}
}

// auditText makes s valid UTF-8 and, when limit is positive, cuts it to
// limit characters.
func auditText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// nullString helper for nullable strings
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}
