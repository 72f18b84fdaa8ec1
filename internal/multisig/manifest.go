// Package multisig implements the N-of-M approval state machine shared by
// policy activations and artifact promotions.
package multisig

import "time"

// Target names what kind of entity an UpgradeManifest governs.
type Target string

const (
	TargetPolicy   Target = "policy"
	TargetArtifact Target = "artifact"
	TargetSystem   Target = "system"
)

// State is an UpgradeManifest's lifecycle stage.
type State string

const (
	StatePending     State = "pending"
	StateApproved    State = "approved"
	StateApplied     State = "applied"
	StateRejected    State = "rejected"
	StateRolledBack  State = "rolled_back"
)

// Approval is one signed approval against an UpgradeManifest.
type Approval struct {
	UpgradeID  string
	ApproverID string
	Signature  []byte
	Notes      string
	Timestamp  time.Time
}

// Manifest is an UpgradeManifest: a change request gated behind N-of-M
// independent signatures.
type Manifest struct {
	ID                string
	Target            Target
	Payload           map[string]interface{}
	RequiredApprovals int
	ThresholdSet      []string // authorized approver ids
	State             State
	Approvals         []Approval
	AuditEventIDs     []string
	SubmittedAt       time.Time
	AppliedAt         *time.Time
	AppliedBy         string
}

// allowedTransitions matches the documented state machine exactly,
// including "pending --approve--> pending" for non-final approvals, which
// this package models as staying in StatePending rather than a transition.
var allowedTransitions = map[State][]State{
	StatePending:  {StateApproved, StateRejected},
	StateApproved: {StateApplied, StateRejected},
	StateApplied:  {StateRolledBack},
}

func CanTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsAuthorizedApprover reports whether approverID is in the manifest's
// threshold set.
func (m *Manifest) IsAuthorizedApprover(approverID string) bool {
	for _, id := range m.ThresholdSet {
		if id == approverID {
			return true
		}
	}
	return false
}

// HasApprovalFrom reports whether approverID already approved, enforcing
// the unique (upgrade_id, approver_id) constraint at the domain layer too.
func (m *Manifest) HasApprovalFrom(approverID string) bool {
	for _, a := range m.Approvals {
		if a.ApproverID == approverID {
			return true
		}
	}
	return false
}
