package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/resilience"
)

// Signer is the narrow surface Chain needs from a signer.Registry, kept as
// an interface so tests can supply a stub.
type Signer interface {
	Sign(ctx context.Context, digest [32]byte) (signature []byte, kid string, err error)
}

// Chain is the signed, hash-chained, append-only audit log described by the
// AuditChain contract: append(event_type, payload) -> (id, hash, ts).
type Chain struct {
	db        *sql.DB
	signer    Signer
	retention RetentionPolicy
	metrics   *metrics.Metrics
	logger    *logging.Logger
	env       config.Environment
	breaker   *resilience.CircuitBreaker
	retryCfg  resilience.RetryConfig
}

type Option func(*Chain)

func WithRetentionPolicy(p RetentionPolicy) Option { return func(c *Chain) { c.retention = p } }
func WithCircuitBreaker(b *resilience.CircuitBreaker) Option {
	return func(c *Chain) { c.breaker = b }
}
func WithRetryConfig(cfg resilience.RetryConfig) Option { return func(c *Chain) { c.retryCfg = cfg } }

func NewChain(db *sql.DB, s Signer, env config.Environment, m *metrics.Metrics, logger *logging.Logger, opts ...Option) *Chain {
	c := &Chain{
		db:        db,
		signer:    s,
		retention: KeepForever{},
		metrics:   m,
		logger:    logger,
		env:       env,
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
		retryCfg:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sentinelIDPrefix marks ids returned for events a RetentionPolicy skipped
// entirely — no row was inserted, so the id is not a lookup key.
const sentinelIDPrefix = "skipped:"

// Append implements the AuditChain contract in a single transaction:
// lock the tail, compute the hash, dedupe by hash, sign, insert.
func (c *Chain) Append(ctx context.Context, eventType string, payload map[string]interface{}) (id, hash string, ts time.Time, err error) {
	decision := c.retention.Decide(eventType, payload)
	if !decision.Keep {
		return sentinelIDPrefix + uuid.NewString(), "", time.Now().UTC(), nil
	}

	start := time.Now()
	classify := func(e error) bool { return isTransient(e) }

	appendErr := resilience.Retry(ctx, c.retryCfg, classify, func() error {
		var attemptErr error
		id, hash, ts, attemptErr = c.appendOnce(ctx, eventType, payload, decision)
		return attemptErr
	})

	status := "ok"
	if appendErr != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordAuditAppend(status, time.Since(start))
	}

	if appendErr != nil {
		if isTransient(appendErr) {
			return "", "", time.Time{}, apperrors.Transient("audit.append", appendErr)
		}
		return "", "", time.Time{}, apperrors.Internal("audit append failed", appendErr)
	}
	return id, hash, ts, nil
}

func (c *Chain) appendOnce(ctx context.Context, eventType string, payload map[string]interface{}, decision RetentionDecision) (string, string, time.Time, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT hash FROM audit_chain_tail WHERE id = 1 FOR UPDATE`).Scan(&prevHash); err != nil {
		return "", "", time.Time{}, fmt.Errorf("lock chain tail: %w", err)
	}

	ts := time.Now().UTC()
	digest, err := HashEvent(eventType, payload, prevHash.String, ts.Format(time.RFC3339Nano))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("hash event: %w", err)
	}
	hashHex := hex.EncodeToString(digest[:])

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM audit_events WHERE hash = $1`, hashHex).Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return "", "", time.Time{}, fmt.Errorf("commit idempotent lookup: %w", err)
		}
		return existingID, hashHex, ts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, fmt.Errorf("check existing hash: %w", err)
	}

	var signature []byte
	var kid string
	_, err = c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		var signErr error
		signature, kid, signErr = c.signer.Sign(ctx, digest)
		return nil, signErr
	})
	if err != nil {
		return "", "", time.Time{}, apperrors.SignerUnavailable(err)
	}

	id := uuid.NewString()
	payloadJSON, err := Canonicalize(payload)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("canonicalize payload for storage: %w", err)
	}

	var prevHashVal interface{}
	if prevHash.Valid {
		prevHashVal = prevHash.String
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, payload, prev_hash, hash, signature, signer_kid, ts, retention_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, id, eventType, payloadJSON, prevHashVal, hashHex, hex.EncodeToString(signature), kid, ts, decision.RetentionExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			var raceID string
			if lookupErr := tx.QueryRowContext(ctx, `SELECT id FROM audit_events WHERE hash = $1`, hashHex).Scan(&raceID); lookupErr == nil {
				_ = tx.Commit()
				return raceID, hashHex, ts, nil
			}
		}
		return "", "", time.Time{}, fmt.Errorf("insert audit event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE audit_chain_tail SET hash = $1 WHERE id = 1`, hashHex); err != nil {
		return "", "", time.Time{}, fmt.Errorf("advance chain tail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", time.Time{}, fmt.Errorf("commit append: %w", err)
	}

	return id, hashHex, ts, nil
}

// Get fetches a single committed event by id.
func (c *Chain) Get(ctx context.Context, id string) (*Event, error) {
	if strings.HasPrefix(id, sentinelIDPrefix) {
		return nil, apperrors.NotFound("audit_event", id)
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, event_type, payload, COALESCE(prev_hash, ''), hash, signature, signer_kid, ts, retention_expires_at
		FROM audit_events WHERE id = $1
	`, id)

	var ev Event
	var payloadRaw []byte
	var retentionExpiresAt sql.NullTime
	if err := row.Scan(&ev.ID, &ev.EventType, &payloadRaw, &ev.PrevHash, &ev.Hash, &ev.Signature, &ev.SignerKid, &ev.Timestamp, &retentionExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("audit_event", id)
		}
		return nil, apperrors.Internal("audit get failed", err)
	}
	if retentionExpiresAt.Valid {
		ev.RetentionExpiresAt = &retentionExpiresAt.Time
	}
	ev.Payload = decodePayload(payloadRaw)
	return &ev, nil
}

// Search lists events matching q in ascending timestamp order.
func (c *Chain) Search(ctx context.Context, q SearchQuery) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	args := []interface{}{q.TimeMin}
	query := `
		SELECT id, event_type, payload, COALESCE(prev_hash, ''), hash, signature, signer_kid, ts, retention_expires_at
		FROM audit_events WHERE ts >= $1
	`
	if q.EventType != "" {
		query += ` AND event_type = $2 ORDER BY ts ASC LIMIT $3`
		args = append(args, q.EventType, limit)
	} else {
		query += ` ORDER BY ts ASC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("audit search failed", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payloadRaw []byte
		var retentionExpiresAt sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.EventType, &payloadRaw, &ev.PrevHash, &ev.Hash, &ev.Signature, &ev.SignerKid, &ev.Timestamp, &retentionExpiresAt); err != nil {
			return nil, apperrors.Internal("audit search scan failed", err)
		}
		if retentionExpiresAt.Valid {
			ev.RetentionExpiresAt = &retentionExpiresAt.Time
		}
		ev.Payload = decodePayload(payloadRaw)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Verify walks the full chain confirming each row's hash matches the
// recomputed digest and that prev_hash equals the previous row's hash.
func (c *Chain) Verify(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT event_type, payload, COALESCE(prev_hash, ''), hash, ts
		FROM audit_events ORDER BY ts ASC
	`)
	if err != nil {
		return apperrors.Internal("audit verify query failed", err)
	}
	defer rows.Close()

	expectedPrev := ""
	for rows.Next() {
		var eventType, prevHash, hash string
		var payloadRaw []byte
		var ts time.Time
		if err := rows.Scan(&eventType, &payloadRaw, &prevHash, &hash, &ts); err != nil {
			return apperrors.Internal("audit verify scan failed", err)
		}
		if prevHash != expectedPrev {
			if c.metrics != nil {
				c.metrics.RecordAuditVerifyFailure()
			}
			return apperrors.Consistency(fmt.Sprintf("chain broken: expected prev_hash %q, got %q", expectedPrev, prevHash))
		}
		digest, err := HashEvent(eventType, decodePayload(payloadRaw), prevHash, ts.Format(time.RFC3339Nano))
		if err != nil {
			return apperrors.Internal("audit verify hash failed", err)
		}
		if hex.EncodeToString(digest[:]) != hash {
			if c.metrics != nil {
				c.metrics.RecordAuditVerifyFailure()
			}
			return apperrors.Consistency(fmt.Sprintf("chain broken: hash mismatch at %s", hash))
		}
		expectedPrev = hash
	}
	return rows.Err()
}

func decodePayload(raw []byte) map[string]interface{} {
	payload, err := decodeJSONObject(raw)
	if err != nil {
		return map[string]interface{}{}
	}
	return payload
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40": // transaction rollback (serialization failure etc.)
			return true
		case "08": // connection exception
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline")
}
