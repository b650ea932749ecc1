package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore is a PostgreSQL-backed device key store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres device key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deviceKeyColumns = `id, hash, family_id, child_id, name, created_at, last_used, expires_at, revoked`

func (s *PostgresStore) Create(ctx context.Context, key *DeviceKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_keys (`+deviceKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.Hash, key.FamilyID, key.ChildID, key.Name,
		key.CreatedAt, nullTime(key.LastUsed), key.ExpiresAt, key.Revoked,
	)
	if err != nil {
		return fmt.Errorf("insert device key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*DeviceKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deviceKeyColumns+` FROM device_keys WHERE hash = $1`, hash)
	return scanDeviceKey(row)
}

func (s *PostgresStore) GetByFamily(ctx context.Context, familyID string) ([]*DeviceKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceKeyColumns+` FROM device_keys
		WHERE family_id = $1 ORDER BY created_at`, familyID)
	if err != nil {
		return nil, fmt.Errorf("query device keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DeviceKey
	for rows.Next() {
		key, err := scanDeviceKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, key *DeviceKey) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE device_keys
		SET last_used = $2, expires_at = $3, revoked = $4
		WHERE id = $1`,
		key.ID, nullTime(key.LastUsed), key.ExpiresAt, key.Revoked,
	)
	if err != nil {
		return fmt.Errorf("update device key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device key: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceKey(row rowScanner) (*DeviceKey, error) {
	var key DeviceKey
	var lastUsed sql.NullTime
	err := row.Scan(
		&key.ID, &key.Hash, &key.FamilyID, &key.ChildID, &key.Name,
		&key.CreatedAt, &lastUsed, &key.ExpiresAt, &key.Revoked,
	)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device key: %w", err)
	}
	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return &key, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
