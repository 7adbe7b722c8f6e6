// ABOUTME: Activity log persistence (feedings, sleeps, diapers) scoped to a family
// ABOUTME: Activity IDs are ULIDs so lexical order follows creation order

package store

import (
	"context"
	"database/sql"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewActivityID returns a lexicographically sortable activity identifier.
func NewActivityID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CreateActivity stores a new activity. IDs are generated when empty.
func (s *SQLiteStore) CreateActivity(ctx context.Context, activity *Activity) error {
	if activity.ID == "" {
		activity.ID = NewActivityID()
	}
	now := time.Now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = now
	}

	query := `
		INSERT INTO activities (id, family_id, caretaker_id, kind, notes, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		activity.ID,
		activity.FamilyID,
		nullString(activity.CaretakerID),
		activity.Kind,
		nullString(activity.Notes),
		activity.OccurredAt.UTC().Format(time.RFC3339),
		activity.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	s.logger.Debug("created activity", "id", activity.ID, "family_id", activity.FamilyID, "kind", activity.Kind)
	return nil
}

// ListActivities returns a family's activities, newest first.
// If limit is 0 or negative, all activities are returned.
func (s *SQLiteStore) ListActivities(ctx context.Context, familyID string, limit int) ([]*Activity, error) {
	query := `
		SELECT id, family_id, caretaker_id, kind, notes, occurred_at, created_at
		FROM activities
		WHERE family_id = ?
		ORDER BY occurred_at DESC, id DESC
	`
	args := []any{familyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		var caretakerID, notes sql.NullString
		var occurredAtStr, createdAtStr string

		if err := rows.Scan(&a.ID, &a.FamilyID, &caretakerID, &a.Kind, &notes, &occurredAtStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.CaretakerID = caretakerID.String
		a.Notes = notes.String

		if a.OccurredAt, err = time.Parse(time.RFC3339, occurredAtStr); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}

	return activities, nil
}

// DeleteActivity removes an activity belonging to the given family.
// Returns ErrNotFound if the family has no activity with that ID.
func (s *SQLiteStore) DeleteActivity(ctx context.Context, familyID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ? AND family_id = ?`, id, familyID)
	if err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted activity", "id", id, "family_id", familyID)
	return nil
}
