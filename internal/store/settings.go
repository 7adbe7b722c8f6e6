// ABOUTME: Application settings key/value persistence
// ABOUTME: Holds values like the encrypted system administrator password

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SettingAdminPassword is the settings key of the encrypted system administrator password.
const SettingAdminPassword = "admin_password"

// GetSetting returns the value stored under key.
// Returns ErrNotFound if the key has never been set.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// SetSetting creates or replaces the value stored under key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}

	s.logger.Debug("updated setting", "key", key)
	return nil
}
