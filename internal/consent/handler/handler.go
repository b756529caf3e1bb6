// Package handler exposes the consent core over HTTP. It stays thin:
// decode, delegate, encode the shared envelope.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"katha/internal/audit"
	"katha/internal/consent"
	"katha/internal/keys"
	"katha/internal/platform/middleware"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/httputil"
)

// actorAdmin identifies operations performed with the admin credential.
const actorAdmin = "admin"

// Handler handles consent, audit, and key-export endpoints.
type Handler struct {
	service    *consent.Service
	ledger     *audit.Ledger
	material   *keys.Material
	logger     *slog.Logger
	adminToken string
}

// New creates the consent handler.
func New(service *consent.Service, ledger *audit.Ledger, material *keys.Material, logger *slog.Logger, adminToken string) *Handler {
	return &Handler{
		service:    service,
		ledger:     ledger,
		material:   material,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts the consent routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/.well-known/jwks.json", h.handleJWKS)
	r.Post("/consent/validate", h.handleValidate)
	r.Post("/consent/intersect", h.handleIntersect)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireConsent(h.service, domain.ScopeReadAudit, h.logger))
		r.Get("/audit", h.handleAuditList)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.adminToken, h.logger))
		r.Post("/consent/issue", h.handleIssue)
		r.Post("/consent/revoke", h.handleRevoke)
		r.Get("/consent/subjects/{subjectID}/tokens", h.handleSubjectTokens)
	})
}

type issueRequest struct {
	SubjectID  string   `json:"subject_id"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	subjectID, err := domain.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.TTLSeconds < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "ttl must be positive"))
		return
	}

	grant, err := h.service.Issue(ctx, subjectID, req.Scopes, time.Duration(req.TTLSeconds)*time.Second, actorAdmin)
	if err != nil {
		h.writeServiceError(w, r, "issue failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, grant)
}

type revokeRequest struct {
	TokenID string `json:"token_id"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	tokenID, err := domain.ParseTokenID(req.TokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Revoke(ctx, tokenID, actorAdmin)
	if err != nil {
		h.writeServiceError(w, r, "revoke failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, result)
}

type validateRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}

	validation, err := h.service.Validate(ctx, req.Token)
	if err != nil {
		// All rejection causes collapse to the same envelope.
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized"))
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, validation)
}

type intersectRequest struct {
	Granted   []string `json:"granted"`
	Requested []string `json:"requested"`
}

func (h *Handler) handleIntersect(w http.ResponseWriter, r *http.Request) {
	var req intersectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	scopes := h.service.Intersect(req.Granted, req.Requested)
	if scopes == nil {
		scopes = []string{}
	}
	httputil.WriteSuccess(w, http.StatusOK, map[string][]string{"scopes": scopes})
}

func (h *Handler) handleSubjectTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectID, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tokens, err := h.service.TokensForSubject(ctx, subjectID)
	if err != nil {
		h.writeServiceError(w, r, "list tokens failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, tokens)
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var subjectFilter *domain.SubjectID
	if raw := r.URL.Query().Get("subject_id"); raw != "" {
		id, err := domain.ParseSubjectID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		subjectFilter = &id
	}
	page := queryInt(r, "page")
	pageSize := queryInt(r, "page_size")
	if pageSize == 0 {
		pageSize = queryInt(r, "limit")
	}

	result, err := h.ledger.List(ctx, subjectFilter, page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, "audit list failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, result)
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.material.JWKS())
}

// queryInt parses a query parameter, returning zero for absent or garbage
// values. The ledger clamps zero to its defaults.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), msg,
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	httputil.WriteError(w, err)
}
