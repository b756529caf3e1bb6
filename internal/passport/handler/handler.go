// Package handler exposes passport and memory endpoints. Every data route is
// consent gated, and the presented token must belong to the passport it
// touches.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"katha/internal/passport"
	"katha/internal/platform/middleware"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/httputil"
)

const actorAdmin = "admin"

// Handler handles passport lifecycle and memory record endpoints.
type Handler struct {
	service    *passport.Service
	checker    middleware.ConsentChecker
	logger     *slog.Logger
	adminToken string
}

// New creates the passport handler.
func New(service *passport.Service, checker middleware.ConsentChecker, logger *slog.Logger, adminToken string) *Handler {
	return &Handler{
		service:    service,
		checker:    checker,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts the passport routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/passports", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.adminToken, h.logger))
			r.Post("/", h.handleCreate)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireConsent(h.checker, domain.ScopeAdminFamily, h.logger))
			r.Delete("/{passportID}", h.handleDelete)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireConsent(h.checker, domain.ScopeReadPassport, h.logger))
			r.Get("/{passportID}", h.handleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireConsent(h.checker, domain.ScopeWriteMemories, h.logger))
			r.Post("/{passportID}/memories", h.handleAddMemory)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireConsent(h.checker, domain.ScopeReadMemories, h.logger))
			r.Get("/{passportID}/memories", h.handleListMemories)
		})
	})
}

type createRequest struct {
	FamilyName string `json:"family_name"`
	Persona    string `json:"persona"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	p, err := h.service.Create(ctx, req.FamilyName, req.Persona, actorAdmin)
	if err != nil {
		h.writeServiceError(w, r, "create passport failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.passportForToken(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, "get passport failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.passportForToken(w, r)
	if !ok {
		return
	}
	subjectID, _ := middleware.GetSubjectID(ctx)
	if err := h.service.Delete(ctx, id, "subject:"+subjectID.String()); err != nil {
		h.writeServiceError(w, r, "delete passport failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type addMemoryRequest struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	LifeTheme  string   `json:"life_theme"`
	Triggers   []string `json:"triggers"`
	MemoryType string   `json:"memory_type"`
}

func (h *Handler) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.passportForToken(w, r)
	if !ok {
		return
	}
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	subjectID, _ := middleware.GetSubjectID(ctx)
	rec, err := h.service.AddMemory(ctx, id, req.Title, req.Body, req.LifeTheme, req.Triggers, req.MemoryType, "subject:"+subjectID.String())
	if err != nil {
		h.writeServiceError(w, r, "add memory failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, rec)
}

func (h *Handler) handleListMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.passportForToken(w, r)
	if !ok {
		return
	}
	records, err := h.service.ListMemories(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, "list memories failed", err)
		return
	}
	if records == nil {
		records = []*passport.MemoryRecord{}
	}
	httputil.WriteSuccess(w, http.StatusOK, records)
}

// passportForToken parses the passport id from the URL and checks it against
// the validated token's subject. A token for one passport grants nothing on
// another, whatever its scopes.
func (h *Handler) passportForToken(w http.ResponseWriter, r *http.Request) (domain.PassportID, bool) {
	id, err := domain.ParsePassportID(chi.URLParam(r, "passportID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.PassportID{}, false
	}
	subjectID, ok := middleware.GetSubjectID(r.Context())
	if !ok || subjectID.String() != id.String() {
		h.logger.WarnContext(r.Context(), "rejected request - token subject does not own passport",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "forbidden"))
		return domain.PassportID{}, false
	}
	return id, true
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
