package database

import (
	"context"
)

// SettingRow is one (category, key) → typed value tuple from web_settings.
type SettingRow struct {
	Category  string
	Key       string
	Value     string
	ValueType string // int, float, bool, string
	MinValue  *float64
	MaxValue  *float64
}

// ListSettings returns every web_settings row. The settings package
// materializes these into a typed snapshot once per phase; consumers never
// re-read per call.
func (db *DB) ListSettings(ctx context.Context) ([]SettingRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT category, key, value, value_type, min_value, max_value
		FROM web_settings
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []SettingRow
	for rows.Next() {
		var s SettingRow
		if err := rows.Scan(&s.Category, &s.Key, &s.Value, &s.ValueType, &s.MinValue, &s.MaxValue); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// UpsertSetting writes one setting row. Used by operator tooling and tests.
func (db *DB) UpsertSetting(ctx context.Context, s SettingRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO web_settings (category, key, value, value_type, min_value, max_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (category, key) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			updated_at = now()
	`, s.Category, s.Key, s.Value, s.ValueType, s.MinValue, s.MaxValue)
	return err
}
