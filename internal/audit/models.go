// Package audit is the append-only ledger of consent-relevant events. Every
// other component writes through it; nothing reads it back for decisions.
package audit

import (
	"encoding/json"
	"time"

	domain "katha/pkg/domain"
)

// Action is the closed vocabulary of event kinds. It grows only by adding
// new kinds; existing kinds are never repurposed.
type Action string

const (
	ActionConsentGranted  Action = "consent_granted"
	ActionConsentRevoked  Action = "consent_revoked"
	ActionRevokeMissed    Action = "consent_revoke_missed"
	ActionPassportCreated Action = "passport_created"
	ActionPassportDeleted Action = "passport_deleted"
	ActionMemoryAdded     Action = "memory_added"
)

// validActions is the single source of truth for appendable actions.
var validActions = map[Action]bool{
	ActionConsentGranted:  true,
	ActionConsentRevoked:  true,
	ActionRevokeMissed:    true,
	ActionPassportCreated: true,
	ActionPassportDeleted: true,
	ActionMemoryAdded:     true,
}

// IsValid checks membership in the vocabulary.
func (a Action) IsValid() bool { return validActions[a] }

func (a Action) String() string { return string(a) }

// Entry is one appended fact. Once written no field changes and no entry is
// removed; the sequence id is assigned by the store, never by callers.
type Entry struct {
	SequenceID int64             `json:"sequence_id"`
	SubjectID  *domain.SubjectID `json:"subject_id,omitempty"`
	Action     Action            `json:"action"`
	Actor      string            `json:"actor"`
	Details    json.RawMessage   `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
