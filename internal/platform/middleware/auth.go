package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"katha/internal/consent"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/httputil"
)

// ConsentChecker validates a presented token through the full pipeline,
// including the fresh revocation read. The middleware never caches results.
type ConsentChecker interface {
	Validate(ctx context.Context, token string) (*consent.Validation, error)
}

type contextKeySubjectID struct{}
type contextKeyTokenID struct{}
type contextKeyScopes struct{}

var (
	ContextKeySubjectID = contextKeySubjectID{}
	ContextKeyTokenID   = contextKeyTokenID{}
	ContextKeyScopes    = contextKeyScopes{}
)

// GetSubjectID retrieves the validated subject from the request context.
func GetSubjectID(ctx context.Context) (domain.SubjectID, bool) {
	id, ok := ctx.Value(ContextKeySubjectID).(domain.SubjectID)
	return id, ok
}

// GetTokenID retrieves the validated token id from the request context.
func GetTokenID(ctx context.Context) (domain.TokenID, bool) {
	id, ok := ctx.Value(ContextKeyTokenID).(domain.TokenID)
	return id, ok
}

// GetGrantedScopes retrieves the validated grant's scopes.
func GetGrantedScopes(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

// RequireConsent gates a route on a valid consent token carrying the required
// scope. The validator runs before the wrapped handler so no protected data
// is touched for a rejected request. All rejection causes produce the same
// 401 envelope; only a valid token missing the scope earns a 403.
func RequireConsent(checker ConsentChecker, required domain.Scope, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			bearer, ok := bearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "rejected request - missing bearer token",
					"path", r.URL.Path,
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized"))
				return
			}

			validation, err := checker.Validate(ctx, bearer)
			if err != nil {
				logger.WarnContext(ctx, "rejected request - token validation failed",
					"path", r.URL.Path,
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized"))
				return
			}

			if !domain.HasScope(validation.Scopes, required) {
				logger.WarnContext(ctx, "rejected request - scope not granted",
					"path", r.URL.Path,
					"required_scope", string(required),
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "forbidden"))
				return
			}

			ctx = context.WithValue(ctx, ContextKeySubjectID, validation.SubjectID)
			ctx = context.WithValue(ctx, ContextKeyTokenID, validation.TokenID)
			ctx = context.WithValue(ctx, ContextKeyScopes, validation.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates issuance, revocation, and passport administration on the
// configured admin credential. An unconfigured credential disables the routes
// entirely rather than leaving them open.
func RequireAdmin(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			bearer, ok := bearerToken(r)
			if !ok || adminToken == "" ||
				subtle.ConstantTimeCompare([]byte(bearer), []byte(adminToken)) != 1 {
				logger.WarnContext(ctx, "rejected request - admin credential",
					"path", r.URL.Path,
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	after, ok := strings.CutPrefix(header, prefix)
	if !ok || after == "" {
		return "", false
	}
	return after, true
}
