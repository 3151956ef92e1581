// Package httpserver is the thin I/O wrapper over the workflow engine. It
// parses requests, pulls the caller identity from the auth middleware, and
// maps the engine's typed errors to HTTP statuses. No workflow decisions
// live here.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meritflow/meritflow/internal/auth"
	"github.com/meritflow/meritflow/internal/models"
	"github.com/meritflow/meritflow/internal/service"
	"github.com/meritflow/meritflow/internal/store"
)

type Server struct {
	service *service.Service
	store   store.Store
	authCfg auth.MiddlewareConfig
	logger  *zap.Logger
}

func New(svc *service.Service, st store.Store, authCfg auth.MiddlewareConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{service: svc, store: st, authCfg: authCfg, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authCfg))

		r.Post("/badges/applications", s.handleCreateBadgeApplication)
		r.Get("/badges/applications/{id}", s.handleGetBadgeApplication)
		r.Post("/badges/applications/{id}/submit", s.handleSubmitBadgeApplication)
		r.Post("/badges/applications/{id}/review", s.handleReviewBadgeApplication)

		r.Post("/promotions", s.handleCreatePromotionDraft)
		r.Get("/promotions/{id}", s.handleGetPromotion)
		r.Post("/promotions/{id}/badges", s.handleAddBadges)
		r.Delete("/promotions/{id}/badges/{badgeApplicationId}", s.handleRemoveBadge)
		r.Get("/promotions/{id}/eligibility", s.handlePreviewEligibility)
		r.Post("/promotions/{id}/submit", s.handleSubmitPromotion)
		r.Post("/promotions/{id}/approve", s.handleApprovePromotion)
		r.Post("/promotions/{id}/reject", s.handleRejectPromotion)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ok": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "time": time.Now().UTC()})
}

// --- badge applications ---

type createBadgeApplicationRequest struct {
	CatalogBadgeID uuid.UUID `json:"catalogBadgeId"`
}

func (s *Server) handleCreateBadgeApplication(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no identity")
		return
	}
	var req createBadgeApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CatalogBadgeID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "catalogBadgeId required")
		return
	}
	app, err := s.service.CreateBadgeApplication(r.Context(), ident, req.CatalogBadgeID)
	if err != nil {
		s.respondServiceError(w, r, "create badge application", err)
		return
	}
	respondJSON(w, http.StatusCreated, app)
}

func (s *Server) handleGetBadgeApplication(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	app, err := s.service.GetBadgeApplication(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "get badge application", err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

func (s *Server) handleSubmitBadgeApplication(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	app, err := s.service.SubmitBadgeApplication(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "submit badge application", err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

type reviewRequest struct {
	Decision models.ReviewDecision `json:"decision"`
	Note     *string               `json:"note,omitempty"`
}

func (s *Server) handleReviewBadgeApplication(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	app, err := s.service.ReviewBadgeApplication(r.Context(), ident, id, req.Decision, req.Note)
	if err != nil {
		s.respondServiceError(w, r, "review badge application", err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// --- promotions ---

type createPromotionRequest struct {
	Path      string `json:"path"`
	FromLevel string `json:"fromLevel"`
	ToLevel   string `json:"toLevel"`
}

func (s *Server) handleCreatePromotionDraft(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no identity")
		return
	}
	var req createPromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	promo, err := s.service.CreatePromotionDraft(r.Context(), ident, req.Path, req.FromLevel, req.ToLevel)
	if err != nil {
		s.respondServiceError(w, r, "create promotion draft", err)
		return
	}
	respondJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	promo, err := s.service.GetPromotion(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "get promotion", err)
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

type addBadgesRequest struct {
	BadgeApplicationIDs []uuid.UUID `json:"badgeApplicationIds"`
}

func (s *Server) handleAddBadges(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	var req addBadgesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reservations, err := s.service.AddBadgesToPromotion(r.Context(), ident, id, req.BadgeApplicationIDs)
	if err != nil {
		s.respondServiceError(w, r, "add badges to promotion", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"added": reservations})
}

func (s *Server) handleRemoveBadge(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	appID, err := uuid.Parse(chi.URLParam(r, "badgeApplicationId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid badge application id")
		return
	}
	if err := s.service.RemoveBadgeFromPromotion(r.Context(), ident, id, appID); err != nil {
		s.respondServiceError(w, r, "remove badge from promotion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreviewEligibility(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.service.PreviewEligibility(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "preview eligibility", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitPromotion(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	promo, err := s.service.SubmitPromotion(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "submit promotion", err)
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

func (s *Server) handleApprovePromotion(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	promo, err := s.service.ApprovePromotion(r.Context(), ident, id)
	if err != nil {
		s.respondServiceError(w, r, "approve promotion", err)
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectPromotion(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := s.identityAndID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	promo, err := s.service.RejectPromotion(r.Context(), ident, id, req.Reason)
	if err != nil {
		s.respondServiceError(w, r, "reject promotion", err)
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

// --- helpers ---

func (s *Server) identityAndID(w http.ResponseWriter, r *http.Request, param string) (auth.Identity, uuid.UUID, bool) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no identity")
		return auth.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return auth.Identity{}, uuid.Nil, false
	}
	return ident, id, true
}

// respondServiceError maps the engine's error taxonomy onto HTTP statuses.
// Expected outcomes keep their structure; anything else is logged with full
// context and surfaced as an opaque 500.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		validationErr *models.ValidationError
		forbiddenErr  *models.ForbiddenError
		transitionErr *models.InvalidTransitionError
		conflictErr   *models.ReservationConflictError
		eligErr       *models.EligibilityFailedError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Msg)
	case errors.As(err, &forbiddenErr):
		respondError(w, http.StatusForbidden, forbiddenErr.Error())
	case errors.As(err, &transitionErr):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "invalid transition",
			"entity":  transitionErr.Entity,
			"current": transitionErr.Current,
		})
	case errors.As(err, &conflictErr):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":              "reservation conflict",
			"badgeApplicationId": conflictErr.BadgeApplicationID,
			"owningPromotionId":  conflictErr.OwningPromotionID,
		})
	case errors.As(err, &eligErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "eligibility not satisfied",
			"missing": eligErr.Missing,
		})
	default:
		s.logger.Error("internal failure",
			zap.String("op", op),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
