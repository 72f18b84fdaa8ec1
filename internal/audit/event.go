package audit

import "time"

// Event is a single committed row of the hash chain. Events are immutable
// once inserted; only retention_expires_at governs eventual physical
// deletion, which this package does not itself perform.
type Event struct {
	ID                   string                 `json:"id"`
	EventType            string                 `json:"event_type"`
	Payload              map[string]interface{} `json:"payload"`
	PrevHash             string                 `json:"prev_hash"`
	Hash                 string                 `json:"hash"`
	Signature            string                 `json:"signature"`
	SignerKid            string                 `json:"signer_kid"`
	Timestamp            time.Time              `json:"ts"`
	ManifestSignatureID  string                 `json:"manifest_signature_id,omitempty"`
	RetentionExpiresAt   *time.Time             `json:"retention_expires_at,omitempty"`
}

// SearchQuery filters Event rows for POST /audit/search and PollSource.
type SearchQuery struct {
	TimeMin   time.Time
	EventType string
	Limit     int
}

// RetentionDecision is returned by a RetentionPolicy for a candidate event,
// gating whether it is persisted at all (sampling) and for how long.
type RetentionDecision struct {
	Keep              bool
	RetentionExpiresAt *time.Time
}

// RetentionPolicy decides whether an event type/payload should be persisted
// and for how long. NewChain uses KeepForever unless WithRetentionPolicy
// supplies another.
type RetentionPolicy interface {
	Decide(eventType string, payload map[string]interface{}) RetentionDecision
}

// KeepForever is the default RetentionPolicy: every event is persisted with
// no retention expiry.
type KeepForever struct{}

func (KeepForever) Decide(string, map[string]interface{}) RetentionDecision {
	return RetentionDecision{Keep: true}
}
