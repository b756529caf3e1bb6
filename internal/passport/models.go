// Package passport is the collaborator storage the consent core protects:
// family passports and the memory records they own. The consent middleware
// fronts every read and write here.
package passport

import (
	"time"

	"github.com/google/uuid"

	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
)

// MemoryType distinguishes directly recorded memories from ones
// reconstructed from secondary material.
type MemoryType string

const (
	MemoryTypeRecorded      MemoryType = "recorded"
	MemoryTypeReconstructed MemoryType = "reconstructed"
)

// ParseMemoryType validates external input against the supported kinds.
func ParseMemoryType(s string) (MemoryType, error) {
	switch MemoryType(s) {
	case MemoryTypeRecorded, MemoryTypeReconstructed:
		return MemoryType(s), nil
	case "":
		return MemoryTypeRecorded, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unsupported memory type: "+s)
	}
}

// Passport is one family's record container. Its id doubles as the consent
// subject id: tokens are issued about a passport.
type Passport struct {
	ID         domain.PassportID `json:"id"`
	FamilyName string            `json:"family_name"`
	Persona    string            `json:"persona"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SubjectID returns the consent subject this passport corresponds to.
func (p *Passport) SubjectID() domain.SubjectID {
	return domain.SubjectID(uuid.UUID(p.ID))
}

// MemoryRecord is one stored family memory.
type MemoryRecord struct {
	ID         uuid.UUID         `json:"id"`
	PassportID domain.PassportID `json:"passport_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	LifeTheme  string            `json:"life_theme"`
	Triggers   []string          `json:"triggers"`
	MemoryType MemoryType        `json:"memory_type"`
	CreatedAt  time.Time         `json:"created_at"`
}
