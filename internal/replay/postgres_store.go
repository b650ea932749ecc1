package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists replays in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed replay store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Replay) error {
	messagesJSON, err := json.Marshal(r.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO replays (id, alert_id, child_id, contact_hash, reason, messages,
			captured_at, expires_at, viewed, acted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, nullStr(r.AlertID), r.ChildID, r.ContactHash, r.Reason, messagesJSON,
		r.CapturedAt, r.ExpiresAt, r.Viewed, r.Acted)
	if err != nil {
		return fmt.Errorf("insert replay: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Replay, error) {
	var (
		r            Replay
		alertID      sql.NullString
		messagesJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, alert_id, child_id, contact_hash, reason, messages,
			captured_at, expires_at, viewed, acted
		FROM replays WHERE id = $1
	`, id).Scan(&r.ID, &alertID, &r.ChildID, &r.ContactHash, &r.Reason, &messagesJSON,
		&r.CapturedAt, &r.ExpiresAt, &r.Viewed, &r.Acted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan replay: %w", err)
	}
	r.AlertID = alertID.String
	if err := json.Unmarshal(messagesJSON, &r.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) MarkViewed(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, "viewed")
}

func (s *PostgresStore) MarkActed(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, "acted")
}

func (s *PostgresStore) setFlag(ctx context.Context, id, column string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE replays SET `+column+` = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update replay %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM replays WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired replays: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
