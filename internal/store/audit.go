// ABOUTME: Security audit log entity and store methods
// ABOUTME: Records logins, lockouts, logouts and provisioning with the acting principal and source

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditLogin            AuditAction = "login"
	AuditLockout          AuditAction = "lockout"
	AuditLogout           AuditAction = "logout"
	AuditProvisionFamily  AuditAction = "provision_family"
	AuditSetAdminPassword AuditAction = "set_admin_password"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditLogin,
	AuditLockout,
	AuditLogout,
	AuditProvisionFamily,
	AuditSetAdminPassword,
}

// IsValid reports whether a is one of ValidAuditActions.
func (a AuditAction) IsValid() bool {
	for _, v := range ValidAuditActions {
		if a == v {
			return true
		}
	}
	return false
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	ActorKind  string         // principal kind, or "cli" for operator commands
	ActorID    string         // caretaker or account id when there is one
	FamilyID   string         // family the action applied to, if any
	Action     AuditAction    // what action was performed
	TargetType string         // "family", "session", "setting"
	TargetID   string         // ID of the affected resource
	Source     string         // client address
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time   // entries at or after this time
	Until    *time.Time   // entries at or before this time
	FamilyID *string      // filter by family
	Action   *AuditAction // filter by action type
	Limit    int          // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor_kind, actor_id, family_id, action, target_type, target_id, source, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ActorKind,
		nullString(e.ActorID),
		nullString(e.FamilyID),
		e.Action,
		e.TargetType,
		nullString(e.TargetID),
		nullString(e.Source),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorKind,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actorID, familyID, targetID, source, detailJSON *string
	var actionStr, tsStr string

	if err := scanner.Scan(
		&e.ID,
		&e.ActorKind,
		&actorID,
		&familyID,
		&actionStr,
		&e.TargetType,
		&targetID,
		&source,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	e.ActorID = deref(actorID)
	e.FamilyID = deref(familyID)
	e.TargetID = deref(targetID)
	e.Source = deref(source)

	var err error
	e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Timestamps are compared as parsed times by julianday so mixed fractional
// precision in RFC3339Nano strings still orders correctly.
const auditLogQuery = `
	SELECT audit_id, actor_kind, actor_id, family_id, action, target_type, target_id, source, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR julianday(ts) >= julianday(?))
	  AND (? IS NULL OR julianday(ts) <= julianday(?))
	  AND (? IS NULL OR family_id = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY julianday(ts) DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var action *string
	if f.Action != nil {
		a := string(*f.Action)
		action = &a
	}
	since, until := nullTime(f.Since), nullTime(f.Until)

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		until, until,
		f.FamilyID, f.FamilyID,
		action, action,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
