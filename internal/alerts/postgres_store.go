package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, tier, family_id, child_id, contact_hash, trigger_kind,
	risk_score, summary, recommended_action, replay_id, created_at, expires_at,
	acknowledged, acknowledged_at`

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		a.ID, string(a.Tier), a.FamilyID, a.ChildID, nullStr(a.ContactHash), string(a.Trigger),
		a.RiskScore, a.Summary, nullStr(a.RecommendedAction), nullStr(a.ReplayID),
		a.CreatedAt, a.ExpiresAt, a.Acknowledged, a.AcknowledgedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE id = $1
	`, id)
	return scanAlert(row)
}

func (s *PostgresStore) Acknowledge(ctx context.Context, id string, at time.Time) (*Alert, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET acknowledged = TRUE, acknowledged_at = $2
		WHERE id = $1 AND acknowledged = FALSE
	`, id, at)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) SetReplay(ctx context.Context, id, replayID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET replay_id = $2 WHERE id = $1
	`, id, replayID)
	if err != nil {
		return fmt.Errorf("link replay: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByFamily(ctx context.Context, familyID string, before *time.Time, beforeID string, limit int) ([]*Alert, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE family_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, familyID, *before, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE family_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, familyID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExistsSince(ctx context.Context, childID, contactHash string, trigger Trigger, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE child_id = $1 AND contact_hash = $2 AND trigger_kind = $3 AND created_at >= $4
		)
	`, childID, contactHash, string(trigger), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check alert dedup: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a              Alert
		tier, trigger  string
		contactHash    sql.NullString
		action, replay sql.NullString
	)
	err := row.Scan(
		&a.ID, &tier, &a.FamilyID, &a.ChildID, &contactHash, &trigger,
		&a.RiskScore, &a.Summary, &action, &replay,
		&a.CreatedAt, &a.ExpiresAt, &a.Acknowledged, &a.AcknowledgedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Tier = Tier(tier)
	a.Trigger = Trigger(trigger)
	a.ContactHash = contactHash.String
	a.RecommendedAction = action.String
	a.ReplayID = replay.String
	return &a, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
