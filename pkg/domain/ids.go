package domain

import (
	"github.com/google/uuid"

	dErrors "katha/pkg/domain-errors"
)

// SubjectID identifies the passport (family) a consent grant is about.
// Invariant: must be a valid, non-nil UUID.
//
// Usage: construct via ParseSubjectID at trust boundaries; direct casting
// bypasses validation.
type SubjectID uuid.UUID

// TokenID identifies one issued consent token. It is the primary handle for
// revocation and is never reused, even across revoked tokens.
type TokenID uuid.UUID

// PassportID identifies a stored family passport record.
type PassportID uuid.UUID

// NewTokenID mints a fresh globally unique token identifier.
func NewTokenID() TokenID { return TokenID(uuid.New()) }

// NewSubjectID mints a fresh subject identifier.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// NewPassportID mints a fresh passport identifier.
func NewPassportID() PassportID { return PassportID(uuid.New()) }

// ParseSubjectID constructs a SubjectID from external input.
//
// Errors: CodeBadRequest when the value is empty, malformed, or the nil UUID.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject id")
	return SubjectID(u), err
}

// ParseTokenID constructs a TokenID from external input.
func ParseTokenID(s string) (TokenID, error) {
	u, err := parseUUID(s, "token id")
	return TokenID(u), err
}

// ParsePassportID constructs a PassportID from external input.
func ParsePassportID(s string) (PassportID, error) {
	u, err := parseUUID(s, "passport id")
	return PassportID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+what)
	}
	return u, nil
}

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id TokenID) String() string    { return uuid.UUID(id).String() }
func (id PassportID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero UUID.
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PassportID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps the canonical UUID form on the wire and in JSON.

func (id SubjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id TokenID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PassportID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SubjectID(u)
	return nil
}

func (id *TokenID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TokenID(u)
	return nil
}

func (id *PassportID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PassportID(u)
	return nil
}
