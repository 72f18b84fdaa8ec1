package multisig

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/sentineltrust/controlplane/internal/apperrors"
)

// Store persists UpgradeManifest and ManifestApproval rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Insert(ctx context.Context, m *Manifest) error {
	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return apperrors.Internal("marshal manifest payload", err)
	}
	thresholdJSON, err := json.Marshal(m.ThresholdSet)
	if err != nil {
		return apperrors.Internal("marshal threshold set", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upgrades (id, target, payload, state, required_approvals, threshold_set, audit_event_ids, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,'[]',$7)
	`, m.ID, m.Target, payloadJSON, m.State, m.RequiredApprovals, thresholdJSON, m.SubmittedAt)
	if err != nil {
		return apperrors.Internal("insert upgrade manifest", err)
	}
	return nil
}

// GetForUpdate loads a manifest and row-locks it for the duration of the
// enclosing transaction, serializing concurrent approve/apply calls.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*Manifest, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, target, payload, state, required_approvals, threshold_set, audit_event_ids,
		       submitted_at, applied_at, applied_by
		FROM upgrades WHERE id = $1 FOR UPDATE
	`, id)
	return scanManifest(row)
}

func (s *Store) Get(ctx context.Context, id string) (*Manifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, payload, state, required_approvals, threshold_set, audit_event_ids,
		       submitted_at, applied_at, applied_by
		FROM upgrades WHERE id = $1
	`, id)
	m, err := scanManifest(row)
	if err != nil {
		return nil, err
	}
	approvals, err := s.approvalsFor(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	m.Approvals = approvals
	return m, nil
}

func (s *Store) approvalsFor(ctx context.Context, q queryer, upgradeID string) ([]Approval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT upgrade_id, approver_id, signature, COALESCE(notes, ''), approved_at
		FROM upgrade_approvals WHERE upgrade_id = $1 ORDER BY approved_at ASC
	`, upgradeID)
	if err != nil {
		return nil, apperrors.Internal("query approvals", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		var sigHex string
		if err := rows.Scan(&a.UpgradeID, &a.ApproverID, &sigHex, &a.Notes, &a.Timestamp); err != nil {
			return nil, apperrors.Internal("scan approval", err)
		}
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			return nil, apperrors.Internal("decode approval signature", err)
		}
		a.Signature = sig
		out = append(out, a)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// InsertApproval records an approval inside tx, enforcing the unique
// (upgrade_id, approver_id) constraint via the table's primary key.
func (s *Store) InsertApproval(ctx context.Context, tx *sql.Tx, a Approval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO upgrade_approvals (upgrade_id, approver_id, signature, notes, approved_at)
		VALUES ($1,$2,$3,$4,$5)
	`, a.UpgradeID, a.ApproverID, hex.EncodeToString(a.Signature), a.Notes, a.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("approver has already approved this upgrade")
		}
		return apperrors.Internal("insert approval", err)
	}
	return nil
}

// UpdateState transitions a manifest to newState inside tx.
func (s *Store) UpdateState(ctx context.Context, tx *sql.Tx, id string, newState State, appliedBy string) error {
	if newState == StateApplied {
		_, err := tx.ExecContext(ctx, `
			UPDATE upgrades SET state = $1, applied_at = now(), applied_by = $2 WHERE id = $3
		`, newState, appliedBy, id)
		if err != nil {
			return apperrors.Internal("update upgrade state", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE upgrades SET state = $1 WHERE id = $2`, newState, id); err != nil {
		return apperrors.Internal("update upgrade state", err)
	}
	return nil
}

// AppendAuditEventID records a correlated audit event id on the manifest.
func (s *Store) AppendAuditEventID(ctx context.Context, tx *sql.Tx, id, auditEventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE upgrades SET audit_event_ids = audit_event_ids || to_jsonb($1::text) WHERE id = $2
	`, auditEventID, id)
	if err != nil {
		return apperrors.Internal("append audit event id", err)
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func scanManifest(row interface{ Scan(dest ...interface{}) error }) (*Manifest, error) {
	var m Manifest
	var payloadRaw, thresholdRaw, auditIDsRaw []byte
	var appliedAt sql.NullTime
	var appliedBy sql.NullString

	if err := row.Scan(&m.ID, &m.Target, &payloadRaw, &m.State, &m.RequiredApprovals, &thresholdRaw, &auditIDsRaw, &m.SubmittedAt, &appliedAt, &appliedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("upgrade", "")
		}
		return nil, apperrors.Internal("scan upgrade manifest", err)
	}
	if err := json.Unmarshal(payloadRaw, &m.Payload); err != nil {
		return nil, apperrors.Internal("unmarshal manifest payload", err)
	}
	if err := json.Unmarshal(thresholdRaw, &m.ThresholdSet); err != nil {
		return nil, apperrors.Internal("unmarshal threshold set", err)
	}
	if len(auditIDsRaw) > 0 {
		_ = json.Unmarshal(auditIDsRaw, &m.AuditEventIDs)
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		m.AppliedAt = &t
	}
	m.AppliedBy = appliedBy.String
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
