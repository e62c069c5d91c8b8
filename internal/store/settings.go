package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValueType tags how a setting's text value is interpreted.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeJSON    ValueType = "json"
)

// ErrSettingNotFound is returned when a key has no row.
var ErrSettingNotFound = errors.New("setting not found")

// Keys are dotted paths like "risk.drawdown.threshold_percent".
var settingKeyPattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// ValidateSettingValue checks that value parses under the declared type.
func ValidateSettingValue(valueType ValueType, value string) error {
	switch valueType {
	case TypeString:
		return nil
	case TypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("invalid number %q", value)
		}
		return nil
	case TypeBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		return nil
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("invalid json value")
		}
		return nil
	default:
		return fmt.Errorf("unknown value type %q", valueType)
	}
}

// ValidateSettingKey checks the dotted-key format.
func ValidateSettingKey(key string) error {
	if !settingKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid setting key %q", key)
	}
	return nil
}

// SetSetting validates and upserts one setting, recording who changed it.
func (r *Repository) SetSetting(ctx context.Context, key string, valueType ValueType, value, actor string) error {
	if err := ValidateSettingKey(key); err != nil {
		return err
	}
	if err := ValidateSettingValue(valueType, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO settings (key, value, value_type, updated_at, updated_by)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		key, value, string(valueType), time.Now().UTC(), actor)
	if err != nil {
		return fmt.Errorf("%w: set setting %s: %v", ErrPersistence, key, err)
	}
	return nil
}

// GetSetting retrieves one setting.
func (r *Repository) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	var valueType string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT key, value, value_type, updated_at, COALESCE(updated_by, '')
		 FROM settings WHERE key = $1`, key).Scan(
		&s.Key, &s.Value, &valueType, &s.UpdatedAt, &s.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get setting %s: %v", ErrPersistence, key, err)
	}
	s.ValueType = ValueType(valueType)
	return &s, nil
}

// ListSettings returns all settings ordered by key.
func (r *Repository) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT key, value, value_type, updated_at, COALESCE(updated_by, '')
		 FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: list settings: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		var valueType string
		if err := rows.Scan(&s.Key, &s.Value, &valueType, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, fmt.Errorf("%w: scan setting: %v", ErrPersistence, err)
		}
		s.ValueType = ValueType(valueType)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetNumberSetting returns a number setting, or fallback when unset.
func (r *Repository) GetNumberSetting(ctx context.Context, key string, fallback float64) (float64, error) {
	s, err := r.GetSetting(ctx, key)
	if errors.Is(err, ErrSettingNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	if s.ValueType != TypeNumber {
		return 0, fmt.Errorf("setting %s has type %s, want number", key, s.ValueType)
	}
	return strconv.ParseFloat(s.Value, 64)
}

// GetBoolSetting returns a boolean setting, or fallback when unset.
func (r *Repository) GetBoolSetting(ctx context.Context, key string, fallback bool) (bool, error) {
	s, err := r.GetSetting(ctx, key)
	if errors.Is(err, ErrSettingNotFound) {
		return fallback, nil
	}
	if err != nil {
		return false, err
	}
	if s.ValueType != TypeBoolean {
		return false, fmt.Errorf("setting %s has type %s, want boolean", key, s.ValueType)
	}
	return strconv.ParseBool(s.Value)
}
