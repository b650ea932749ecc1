package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists contact profiles in PostgreSQL. Structured
// accumulators (tags, sessions, factors, signal counts, applied evidence IDs)
// are stored as JSONB; the scalar columns exist so dashboards can query and
// index on them directly.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, childID, contactHash string) (*ContactProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT child_id, contact_hash, style_vector, tags, patterns, sessions,
		       risk_score, trust_score, risk_factors, family_trust,
		       grooming_stage, grooming_confirmed, parent_approved,
		       signal_counts, applied_evidence, created_at, updated_at
		FROM contact_profiles
		WHERE child_id = $1 AND contact_hash = $2
	`, childID, contactHash)
	return scanProfile(row)
}

func (s *PostgresStore) Put(ctx context.Context, p *ContactProfile) error {
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	patternsJSON, err := json.Marshal(p.Patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	sessionsJSON, err := json.Marshal(p.Sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	factorsJSON, err := json.Marshal(p.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	signalsJSON, err := json.Marshal(p.SignalCounts)
	if err != nil {
		return fmt.Errorf("marshal signal counts: %w", err)
	}

	evidenceIDs := make([]string, 0, len(p.AppliedEvidence))
	for id := range p.AppliedEvidence {
		evidenceIDs = append(evidenceIDs, id)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contact_profiles (
			child_id, contact_hash, style_vector, tags, patterns, sessions,
			risk_score, trust_score, risk_factors, family_trust,
			grooming_stage, grooming_confirmed, parent_approved,
			signal_counts, applied_evidence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (child_id, contact_hash) DO UPDATE SET
			style_vector      = EXCLUDED.style_vector,
			tags              = EXCLUDED.tags,
			patterns          = EXCLUDED.patterns,
			sessions          = EXCLUDED.sessions,
			risk_score        = EXCLUDED.risk_score,
			trust_score       = EXCLUDED.trust_score,
			risk_factors      = EXCLUDED.risk_factors,
			family_trust      = EXCLUDED.family_trust,
			grooming_stage    = EXCLUDED.grooming_stage,
			grooming_confirmed = EXCLUDED.grooming_confirmed,
			parent_approved   = EXCLUDED.parent_approved,
			signal_counts     = EXCLUDED.signal_counts,
			applied_evidence  = EXCLUDED.applied_evidence,
			updated_at        = EXCLUDED.updated_at
	`,
		p.ChildID,
		p.ContactHash,
		pq.Array(p.StyleVector),
		tagsJSON,
		patternsJSON,
		sessionsJSON,
		p.RiskScore,
		p.TrustScore,
		factorsJSON,
		p.FamilyTrust,
		p.GroomingStage,
		p.GroomingConfirmed,
		p.ParentApproved,
		signalsJSON,
		pq.Array(evidenceIDs),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contact profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByChild(ctx context.Context, childID string) ([]*ContactProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT child_id, contact_hash, style_vector, tags, patterns, sessions,
		       risk_score, trust_score, risk_factors, family_trust,
		       grooming_stage, grooming_confirmed, parent_approved,
		       signal_counts, applied_evidence, created_at, updated_at
		FROM contact_profiles
		WHERE child_id = $1
		ORDER BY risk_score DESC, contact_hash
	`, childID)
	if err != nil {
		return nil, fmt.Errorf("list profiles by child: %w", err)
	}
	return collectProfiles(rows)
}

func (s *PostgresStore) ListByContact(ctx context.Context, contactHash string) ([]*ContactProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT child_id, contact_hash, style_vector, tags, patterns, sessions,
		       risk_score, trust_score, risk_factors, family_trust,
		       grooming_stage, grooming_confirmed, parent_approved,
		       signal_counts, applied_evidence, created_at, updated_at
		FROM contact_profiles
		WHERE contact_hash = $1
		ORDER BY child_id
	`, contactHash)
	if err != nil {
		return nil, fmt.Errorf("list profiles by contact: %w", err)
	}
	return collectProfiles(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*ContactProfile, error) {
	var (
		p            ContactProfile
		styleVector  pq.Float64Array
		tagsJSON     []byte
		patternsJSON []byte
		sessionsJSON []byte
		factorsJSON  []byte
		familyTrust  sql.NullFloat64
		signalsJSON  []byte
		evidenceIDs  pq.StringArray
	)

	err := row.Scan(
		&p.ChildID,
		&p.ContactHash,
		&styleVector,
		&tagsJSON,
		&patternsJSON,
		&sessionsJSON,
		&p.RiskScore,
		&p.TrustScore,
		&factorsJSON,
		&familyTrust,
		&p.GroomingStage,
		&p.GroomingConfirmed,
		&p.ParentApproved,
		&signalsJSON,
		&evidenceIDs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact profile: %w", err)
	}

	p.StyleVector = []float64(styleVector)
	if err := json.Unmarshal(tagsJSON, &p.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(patternsJSON, &p.Patterns); err != nil {
		return nil, fmt.Errorf("unmarshal patterns: %w", err)
	}
	if err := json.Unmarshal(sessionsJSON, &p.Sessions); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &p.RiskFactors); err != nil {
		return nil, fmt.Errorf("unmarshal risk factors: %w", err)
	}
	if err := json.Unmarshal(signalsJSON, &p.SignalCounts); err != nil {
		return nil, fmt.Errorf("unmarshal signal counts: %w", err)
	}
	if familyTrust.Valid {
		v := familyTrust.Float64
		p.FamilyTrust = &v
	}
	p.AppliedEvidence = make(map[string]struct{}, len(evidenceIDs))
	for _, id := range evidenceIDs {
		p.AppliedEvidence[id] = struct{}{}
	}
	return &p, nil
}

func collectProfiles(rows *sql.Rows) ([]*ContactProfile, error) {
	defer func() { _ = rows.Close() }()

	var out []*ContactProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
