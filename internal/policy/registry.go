package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentineltrust/controlplane/internal/apperrors"
)

// Registry owns Policy storage: CRUD, uniqueness on (name, version), and
// the policy_history audit trail of every write.
type Registry struct {
	db    *sql.DB
	cache *Cache // optional; invalidated on every mutating write
}

func NewRegistry(db *sql.DB, cache *Cache) *Registry {
	return &Registry{db: db, cache: cache}
}

// Create inserts a new draft policy.
func (r *Registry) Create(ctx context.Context, p Policy, editedBy string) (*Policy, error) {
	if p.Rule == nil {
		return nil, apperrors.Validation("rule", "policy rule is required")
	}
	if err := p.Rule.Validate(); err != nil {
		return nil, apperrors.Validation("rule", err.Error())
	}

	p.ID = uuid.NewString()
	p.State = StateDraft
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.CreatedBy == "" {
		p.CreatedBy = editedBy
	}

	ruleJSON, err := json.Marshal(p.Rule)
	if err != nil {
		return nil, apperrors.Internal("marshal rule", err)
	}
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, apperrors.Internal("marshal metadata", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policies (id, name, version, severity, rule, metadata, state, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.Name, p.Version, p.Severity, ruleJSON, metaJSON, p.State, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict(fmt.Sprintf("policy %s version %d already exists", p.Name, p.Version))
		}
		return nil, apperrors.Internal("insert policy", err)
	}

	if err := recordHistory(ctx, tx, p.ID, p.Version, map[string]interface{}{"action": "create"}, editedBy); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit create policy", err)
	}

	r.invalidateCache(ctx, p.Name)
	return &p, nil
}

// Get fetches a policy by id.
func (r *Registry) Get(ctx context.Context, id string) (*Policy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, severity, rule, metadata, state, created_by, created_at, updated_at
		FROM policies WHERE id = $1
	`, id)
	return scanPolicy(row)
}

// List returns policies in states (empty = all), ordered for deterministic
// CheckService evaluation: ascending severity, then name, then version.
func (r *Registry) List(ctx context.Context, states []State) ([]Policy, error) {
	query := `SELECT id, name, version, severity, rule, metadata, state, created_by, created_at, updated_at FROM policies`
	var args []interface{}
	if len(states) > 0 {
		query += ` WHERE state = ANY($1)`
		strStates := make([]string, len(states))
		for i, s := range states {
			strStates[i] = string(s)
		}
		args = append(args, pqArray(strStates))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("list policies", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("list policies scan", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() < out[j].Severity.Rank()
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Transition moves a policy to a new state, validating the allowed
// transition graph, and records the change in policy_history.
func (r *Registry) Transition(ctx context.Context, id string, to State, editedBy string) (*Policy, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, version, severity, rule, metadata, state, created_by, created_at, updated_at
		FROM policies WHERE id = $1 FOR UPDATE
	`, id)
	p, err := scanPolicy(row)
	if err != nil {
		return nil, err
	}

	if !CanTransition(p.State, to) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot transition policy from %s to %s", p.State, to))
	}

	if to == StateActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE policies SET state = $1, updated_at = now() WHERE name = $2 AND state = $3
		`, StateDeprecated, p.Name, StateActive); err != nil {
			return nil, apperrors.Internal("deprecate prior active policy", err)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE policies SET state = $1, updated_at = $2 WHERE id = $3`, to, now, id); err != nil {
		return nil, apperrors.Internal("update policy state", err)
	}

	if err := recordHistory(ctx, tx, id, p.Version, map[string]interface{}{"action": "transition", "from": p.State, "to": to}, editedBy); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit transition", err)
	}

	p.State = to
	p.UpdatedAt = now
	r.invalidateCache(ctx, p.Name)
	return p, nil
}

func (r *Registry) invalidateCache(ctx context.Context, name string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, name)
	}
}

func recordHistory(ctx context.Context, tx *sql.Tx, policyID string, version int, changes map[string]interface{}, editedBy string) error {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return apperrors.Internal("marshal history changes", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_history (policy_id, version, changes, edited_by, edited_at)
		VALUES ($1,$2,$3,$4,now())
	`, policyID, version, changesJSON, editedBy); err != nil {
		return apperrors.Internal("insert policy history", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row scannable) (*Policy, error) {
	p, err := scanPolicyRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("policy", "")
	}
	return p, err
}

func scanPolicyRows(row scannable) (*Policy, error) {
	var p Policy
	var ruleRaw, metaRaw []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Severity, &ruleRaw, &metaRaw, &p.State, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Internal("scan policy", err)
	}
	rule, err := UnmarshalRule(ruleRaw)
	if err != nil {
		return nil, apperrors.Internal("unmarshal stored rule", err)
	}
	p.Rule = rule
	if err := json.Unmarshal(metaRaw, &p.Metadata); err != nil {
		return nil, apperrors.Internal("unmarshal stored metadata", err)
	}
	return &p, nil
}
