package promotion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/sentineltrust/controlplane/internal/apperrors"
)

// Status is a Promotion's terminal or in-flight state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "failed"
)

// Promotion is a single artifact promotion attempt.
type Promotion struct {
	ID             string
	ArtifactRef    string
	Reason         string
	Score          float64
	Status         Status
	Evaluation     map[string]interface{}
	IdempotencyKey string
	EventID        string
}

// Store persists Promotion rows with a unique idempotency_key.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// FindByIdempotencyKey returns the existing promotion for key, if any.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*Promotion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, artifact_ref, status, COALESCE(reason, ''), COALESCE(score, 0), evaluation, idempotency_key, COALESCE(event_id::text, '')
		FROM promotions WHERE idempotency_key = $1
	`, key)
	p, err := scanPromotion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// InsertPending creates a new pending promotion row.
func (s *Store) InsertPending(ctx context.Context, p *Promotion) error {
	evalJSON, err := json.Marshal(p.Evaluation)
	if err != nil {
		return apperrors.Internal("marshal promotion evaluation", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO promotions (id, artifact_ref, status, reason, score, evaluation, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.ArtifactRef, StatusPending, p.Reason, p.Score, evalJSON, p.IdempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("promotion with this idempotency key already exists")
		}
		return apperrors.Internal("insert pending promotion", err)
	}
	return nil
}

// UpdateTerminal records the final status, reason, and correlated audit
// event id for a promotion.
func (s *Store) UpdateTerminal(ctx context.Context, id string, status Status, reason, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE promotions SET status = $1, reason = $2, event_id = $3, updated_at = now() WHERE id = $4
	`, status, reason, eventID, id)
	if err != nil {
		return apperrors.Internal("update promotion terminal state", err)
	}
	return nil
}

func scanPromotion(row interface{ Scan(dest ...interface{}) error }) (*Promotion, error) {
	var p Promotion
	var evalRaw []byte
	if err := row.Scan(&p.ID, &p.ArtifactRef, &p.Status, &p.Reason, &p.Score, &evalRaw, &p.IdempotencyKey, &p.EventID); err != nil {
		return nil, err
	}
	if len(evalRaw) > 0 {
		_ = json.Unmarshal(evalRaw, &p.Evaluation)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
