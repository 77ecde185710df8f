package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/kioku-ai/kioku/pkg/types"
)

// UpsertProfileAttribute writes the value for a key, replacing any previous
// value and stamping updated_at.
func (s *Store) UpsertProfileAttribute(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_attributes (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return storeErr("upsert profile attribute", err)
	}
	return nil
}

// GetProfileAttributes returns attributes for the given keys, or every
// attribute when keys is empty. Keys with no stored value are skipped.
func (s *Store) GetProfileAttributes(ctx context.Context, keys []string) ([]*types.ProfileAttribute, error) {
	query := `SELECT key, value, updated_at FROM profile_attributes`
	args := make([]interface{}, 0, len(keys))
	if len(keys) > 0 {
		placeholders := strings.Repeat("?,", len(keys))
		query += ` WHERE key IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get profile attributes", err)
	}
	defer rows.Close()

	var out []*types.ProfileAttribute
	for rows.Next() {
		var a types.ProfileAttribute
		if err := rows.Scan(&a.Key, &a.Value, &a.UpdatedAt); err != nil {
			return nil, storeErr("scan profile attribute", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate profile attributes", err)
	}
	return out, nil
}
