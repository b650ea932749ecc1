package family

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresViewStore persists family contact views in PostgreSQL.
type PostgresViewStore struct {
	db *sql.DB
}

// NewPostgresViewStore creates a PostgreSQL-backed view store.
func NewPostgresViewStore(db *sql.DB) *PostgresViewStore {
	return &PostgresViewStore{db: db}
}

func (s *PostgresViewStore) Get(ctx context.Context, familyID, contactHash string) (*ContactView, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT family_id, contact_hash, family_trust, family_risk, children, updated_at
		FROM family_contact_views
		WHERE family_id = $1 AND contact_hash = $2
	`, familyID, contactHash)
	return scanView(row)
}

func (s *PostgresViewStore) Put(ctx context.Context, v *ContactView) error {
	childrenJSON, err := json.Marshal(v.Children)
	if err != nil {
		return fmt.Errorf("marshal child views: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO family_contact_views (family_id, contact_hash, family_trust, family_risk, children, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (family_id, contact_hash) DO UPDATE SET
			family_trust = EXCLUDED.family_trust,
			family_risk  = EXCLUDED.family_risk,
			children     = EXCLUDED.children,
			updated_at   = EXCLUDED.updated_at
	`, v.FamilyID, v.ContactHash, v.FamilyTrust, v.FamilyRisk, childrenJSON, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert family contact view: %w", err)
	}
	return nil
}

func (s *PostgresViewStore) ListByFamily(ctx context.Context, familyID string) ([]*ContactView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT family_id, contact_hash, family_trust, family_risk, children, updated_at
		FROM family_contact_views
		WHERE family_id = $1
		ORDER BY family_risk DESC, contact_hash
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family contact views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ContactView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanView(row rowScanner) (*ContactView, error) {
	var (
		v            ContactView
		trust        sql.NullFloat64
		childrenJSON []byte
	)
	err := row.Scan(&v.FamilyID, &v.ContactHash, &trust, &v.FamilyRisk, &childrenJSON, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan family contact view: %w", err)
	}
	if trust.Valid {
		t := trust.Float64
		v.FamilyTrust = &t
	}
	if err := json.Unmarshal(childrenJSON, &v.Children); err != nil {
		return nil, fmt.Errorf("unmarshal child views: %w", err)
	}
	return &v, nil
}
