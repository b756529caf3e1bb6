package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katha/internal/audit"
	"katha/internal/consent"
	"katha/internal/jwttoken"
	"katha/internal/keys"
	"katha/internal/revocation"
	"katha/internal/token"
)

const testAdminToken = "test-admin-credential"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	material, err := keys.GenerateEphemeral("test-key-1")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens := token.NewInMemoryStore()
	ledger := audit.NewLedger(audit.NewInMemoryStore())
	service := consent.New(consent.Config{
		Tokens:     tokens,
		Signer:     jwttoken.New(material, "katha-consent-core", "katha-vault"),
		Registry:   revocation.New(tokens, logger),
		Ledger:     ledger,
		Logger:     logger,
		DefaultTTL: 24 * time.Hour,
		MaxTTL:     90 * 24 * time.Hour,
	})

	r := chi.NewRouter()
	New(service, ledger, material, logger, testAdminToken).Register(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "body: %s", w.Body.String())
	return envelope.Data
}

func issueToken(t *testing.T, router http.Handler, subjectID string, scopes []string) (tokenString, tokenID string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/consent/issue", testAdminToken, map[string]any{
		"subject_id": subjectID,
		"scopes":     scopes,
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	data := decodeData(t, w)
	return data["token"].(string), data["token_id"].(string)
}

func TestIssueRevokeValidateFlow(t *testing.T) {
	router := newTestRouter(t)
	subjectID := "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"

	signed, tokenID := issueToken(t, router, subjectID, []string{"read:memories", "read:audit"})

	w := doJSON(t, router, http.MethodPost, "/consent/validate", "", map[string]string{"token": signed})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, subjectID, data["subject_id"])
	assert.ElementsMatch(t, []any{"read:memories", "read:audit"}, data["scopes"])

	w = doJSON(t, router, http.MethodPost, "/consent/revoke", testAdminToken, map[string]string{"token_id": tokenID})
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, "newly-revoked", data["outcome"])

	// The very next validation sees the revocation.
	w = doJSON(t, router, http.MethodPost, "/consent/validate", "", map[string]string{"token": signed})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Revocation is idempotent.
	w = doJSON(t, router, http.MethodPost, "/consent/revoke", testAdminToken, map[string]string{"token_id": tokenID})
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, "already-revoked", data["outcome"])
}

func TestIssueRequiresAdminCredential(t *testing.T) {
	router := newTestRouter(t)
	body := map[string]any{
		"subject_id": "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11",
		"scopes":     []string{"read:memories"},
	}

	w := doJSON(t, router, http.MethodPost, "/consent/issue", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/consent/issue", "wrong-credential", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueBadRequest(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad subject id", map[string]any{"subject_id": "not-a-uuid", "scopes": []string{"read:memories"}}},
		{"missing scopes", map[string]any{"subject_id": "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"}},
		{"unknown scope", map[string]any{"subject_id": "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11", "scopes": []string{"root:all"}}},
		{"negative ttl", map[string]any{"subject_id": "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11", "scopes": []string{"read:memories"}, "ttl_seconds": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/consent/issue", testAdminToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestValidateRejectionEnvelopeIsUniform(t *testing.T) {
	router := newTestRouter(t)
	subjectID := "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"

	signed, tokenID := issueToken(t, router, subjectID, []string{"read:memories"})
	w := doJSON(t, router, http.MethodPost, "/consent/revoke", testAdminToken, map[string]string{"token_id": tokenID})
	require.Equal(t, http.StatusOK, w.Code)

	revoked := doJSON(t, router, http.MethodPost, "/consent/validate", "", map[string]string{"token": signed})
	garbage := doJSON(t, router, http.MethodPost, "/consent/validate", "", map[string]string{"token": "aa.bb.cc"})

	assert.Equal(t, http.StatusUnauthorized, revoked.Code)
	assert.Equal(t, http.StatusUnauthorized, garbage.Code)
	assert.JSONEq(t, revoked.Body.String(), garbage.Body.String())

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(revoked.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.Nil(t, envelope["data"])
}

func TestAuditEndpointRequiresScope(t *testing.T) {
	router := newTestRouter(t)
	subjectID := "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"

	unscoped, _ := issueToken(t, router, subjectID, []string{"read:memories"})
	scoped, _ := issueToken(t, router, subjectID, []string{"read:audit"})

	w := doJSON(t, router, http.MethodGet, "/audit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/audit", unscoped, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/audit", scoped, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(2), data["total"])
}

func TestAuditPaginationClamped(t *testing.T) {
	router := newTestRouter(t)
	subjectID := "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"
	scoped, _ := issueToken(t, router, subjectID, []string{"read:audit"})

	w := doJSON(t, router, http.MethodGet, "/audit?page=-3&page_size=9999", scoped, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["page"])
	assert.Equal(t, float64(audit.MaxPageSize), data["page_size"])
}

func TestIntersectEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/consent/intersect", "", map[string]any{
		"granted":   []string{"read:memories", "write:memories"},
		"requested": []string{"read:memories", "read:audit"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, []any{"read:memories"}, data["scopes"])

	w = doJSON(t, router, http.MethodPost, "/consent/intersect", "", map[string]any{
		"granted":   []string{"read:memories"},
		"requested": []string{"write:memories"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Empty(t, data["scopes"])
}

func TestJWKSIsPublic(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0]["kty"])
	assert.Equal(t, "RS256", set.Keys[0]["alg"])
	assert.Equal(t, "test-key-1", set.Keys[0]["kid"])
}

func TestSubjectTokenHistory(t *testing.T) {
	router := newTestRouter(t)
	subjectID := "6f1b5a86-4f62-4b7d-9a3e-2f9d1c8a0b11"

	_, tokenID := issueToken(t, router, subjectID, []string{"read:memories"})
	doJSON(t, router, http.MethodPost, "/consent/revoke", testAdminToken, map[string]string{"token_id": tokenID})
	issueToken(t, router, subjectID, []string{"write:memories"})

	w := doJSON(t, router, http.MethodGet, "/consent/subjects/"+subjectID+"/tokens", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Success bool             `json:"success"`
		Data    []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	assert.Len(t, envelope.Data, 2)
}
