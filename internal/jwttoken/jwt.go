// Package jwttoken signs and verifies consent tokens.
//
// Only RS256 is supported, structurally: Signer is constructed from
// keys.Material and hands golang-jwt an *rsa.PrivateKey. There is no code
// path that accepts a shared secret, and the verifier rejects any token whose
// header names a non-RSA method before touching its claims.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"katha/internal/keys"
	domain "katha/pkg/domain"
)

// Verification outcomes. The consent service collapses all of these into one
// generic unauthorized response; the distinction exists only for audit
// details and metrics.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the payload of a consent token. Scopes and constraints ride next
// to the registered claims; the token id (jti) is the revocation handle.
type Claims struct {
	Scopes      []string           `json:"scopes"`
	Constraints domain.Constraints `json:"constraints"`
	jwt.RegisteredClaims
}

// Service signs and verifies consent tokens against immutable key material.
type Service struct {
	material *keys.Material
	issuer   string
	audience string
}

// New builds the token service. material must outlive the service and is
// never mutated.
func New(material *keys.Material, issuer, audience string) *Service {
	return &Service{material: material, issuer: issuer, audience: audience}
}

// Sign mints a signed consent token.
func (s *Service) Sign(
	tokenID domain.TokenID,
	subjectID domain.SubjectID,
	scopes []string,
	issuedAt, expiresAt time.Time,
) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		Scopes:      scopes,
		Constraints: domain.SystemConstraints(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   subjectID.String(),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	token.Header["kid"] = s.material.KeyID()

	return token.SignedString(s.material.Private())
}

// Verify checks the signature and the standard temporal claims (issuer,
// audience, expiry) in that order and returns the embedded claims.
//
// Errors: ErrTokenExpired for an otherwise valid but expired token,
// ErrTokenInvalid for everything else. Parse internals are never propagated.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return s.material.Public(), nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// Signature and structural failures win over claim failures: a forged
		// token that also happens to be expired is still "invalid".
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
