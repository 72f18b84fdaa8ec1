package multisig

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/audit"
)

// AuditAppender is the narrow audit.Chain surface Controller needs.
type AuditAppender interface {
	Append(ctx context.Context, eventType string, payload map[string]interface{}) (id, hash string, ts time.Time, err error)
}

// SignatureVerifier is the narrow signer.Registry surface Controller needs
// to verify an approver's signature over canonical(payload).
type SignatureVerifier interface {
	Verify(ctx context.Context, kid string, digest [32]byte, signature []byte) (bool, error)
}

// Controller drives the UpgradeManifest state machine: submit, approve,
// apply, reject.
type Controller struct {
	store  *Store
	audit  AuditAppender
	verify SignatureVerifier
}

func NewController(store *Store, audit AuditAppender, verify SignatureVerifier) *Controller {
	return &Controller{store: store, audit: audit, verify: verify}
}

// Submit creates a new pending manifest and emits upgrade.submitted.
func (c *Controller) Submit(ctx context.Context, target Target, payload map[string]interface{}, requiredApprovals int, thresholdSet []string) (*Manifest, error) {
	if requiredApprovals <= 0 {
		requiredApprovals = 3
	}
	m := &Manifest{
		ID:                uuid.NewString(),
		Target:            target,
		Payload:           payload,
		RequiredApprovals: requiredApprovals,
		ThresholdSet:      thresholdSet,
		State:             StatePending,
		SubmittedAt:       time.Now().UTC(),
	}

	if err := c.store.Insert(ctx, m); err != nil {
		return nil, err
	}

	eventID, _, _, err := c.audit.Append(ctx, "upgrade.submitted", map[string]interface{}{
		"upgrade_id": m.ID,
		"target":     m.Target,
		"payload":    m.Payload,
	})
	if err != nil {
		return nil, apperrors.Internal("append upgrade.submitted", err)
	}
	m.AuditEventIDs = append(m.AuditEventIDs, eventID)
	return m, nil
}

// Approve records an approval from approverID, verifying their signature
// over canonical(payload) and rejecting duplicates. When the approval
// count reaches RequiredApprovals, the manifest transitions to approved.
func (c *Controller) Approve(ctx context.Context, upgradeID, approverID, approverKid string, signature []byte, notes string) (*Manifest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	m, err := c.store.GetForUpdate(ctx, tx, upgradeID)
	if err != nil {
		return nil, err
	}
	if m.State != StatePending {
		return nil, apperrors.Conflict("upgrade is not pending approval")
	}
	if !m.IsAuthorizedApprover(approverID) {
		return nil, apperrors.Forbidden("approver is not in the threshold set")
	}
	approvals, err := c.store.approvalsFor(ctx, tx, upgradeID)
	if err != nil {
		return nil, err
	}
	m.Approvals = approvals
	if m.HasApprovalFrom(approverID) {
		return nil, apperrors.Conflict("approver has already approved this upgrade")
	}

	digest, err := canonicalDigest(m.Payload)
	if err != nil {
		return nil, apperrors.Internal("digest upgrade payload", err)
	}
	valid, err := c.verify.Verify(ctx, approverKid, digest, signature)
	if err != nil {
		return nil, apperrors.SignerUnavailable(err)
	}
	if !valid {
		return nil, apperrors.Forbidden("approval signature does not verify")
	}

	approval := Approval{UpgradeID: upgradeID, ApproverID: approverID, Signature: signature, Notes: notes, Timestamp: time.Now().UTC()}
	if err := c.store.InsertApproval(ctx, tx, approval); err != nil {
		return nil, err
	}
	m.Approvals = append(m.Approvals, approval)

	if len(m.Approvals) >= m.RequiredApprovals {
		if err := c.store.UpdateState(ctx, tx, upgradeID, StateApproved, ""); err != nil {
			return nil, err
		}
		m.State = StateApproved
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit approval", err)
	}
	return m, nil
}

// Apply verifies every recorded approval's signature and, if they all
// verify, transitions the manifest to applied and emits upgrade.applied.
// kidForApprover resolves each approver's kid for verification.
func (c *Controller) Apply(ctx context.Context, upgradeID, appliedBy string, kidForApprover func(approverID string) string) (*Manifest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	m, err := c.store.GetForUpdate(ctx, tx, upgradeID)
	if err != nil {
		return nil, err
	}
	if m.State != StateApproved {
		if len(m.Approvals) < m.RequiredApprovals {
			return nil, apperrors.InsufficientApprovals(len(m.Approvals), m.RequiredApprovals)
		}
		return nil, apperrors.Conflict("upgrade is not in an applyable state")
	}

	approvals, err := c.store.approvalsFor(ctx, tx, upgradeID)
	if err != nil {
		return nil, err
	}

	digest, err := canonicalDigest(m.Payload)
	if err != nil {
		return nil, apperrors.Internal("digest upgrade payload", err)
	}
	for _, a := range approvals {
		kid := kidForApprover(a.ApproverID)
		valid, err := c.verify.Verify(ctx, kid, digest, a.Signature)
		if err != nil {
			return nil, apperrors.SignerUnavailable(err)
		}
		if !valid {
			return nil, apperrors.Forbidden("approval signature for " + a.ApproverID + " does not verify")
		}
	}

	if err := c.store.UpdateState(ctx, tx, upgradeID, StateApplied, appliedBy); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit apply", err)
	}

	eventID, _, _, err := c.audit.Append(ctx, "upgrade.applied", map[string]interface{}{
		"upgrade_id": upgradeID,
		"applied_by": appliedBy,
	})
	if err != nil {
		return nil, apperrors.Internal("append upgrade.applied", err)
	}
	m.State = StateApplied
	m.AuditEventIDs = append(m.AuditEventIDs, eventID)
	return m, nil
}

// Reject transitions a pending or approved manifest to rejected.
func (c *Controller) Reject(ctx context.Context, upgradeID, reason string) (*Manifest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("begin tx", err)
	}
	defer tx.Rollback()

	m, err := c.store.GetForUpdate(ctx, tx, upgradeID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(m.State, StateRejected) {
		return nil, apperrors.Conflict("upgrade cannot be rejected from its current state")
	}
	if err := c.store.UpdateState(ctx, tx, upgradeID, StateRejected, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("commit reject", err)
	}
	m.State = StateRejected
	return m, nil
}

func (c *Controller) Get(ctx context.Context, upgradeID string) (*Manifest, error) {
	return c.store.Get(ctx, upgradeID)
}

func canonicalDigest(payload map[string]interface{}) ([32]byte, error) {
	canonical, err := audit.Canonicalize(payload)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}
