// Package service is the workflow orchestrator. It composes the state
// machines, the reservation ledger and the eligibility validator into the
// externally callable use cases, and owns the race-safe ordering of their
// effects. It holds no locks of its own: every correctness-critical step is
// a conditional store operation, so losing a race yields a distinct,
// retryable error instead of a duplicated side effect.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meritflow/meritflow/internal/auth"
	"github.com/meritflow/meritflow/internal/eligibility"
	"github.com/meritflow/meritflow/internal/models"
	"github.com/meritflow/meritflow/internal/store"
)

const maxRejectReasonLen = 2000

type Service struct {
	store  store.Store
	logger *zap.Logger
}

func New(st store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, logger: logger}
}

// --- badge applications ---

// CreateBadgeApplication opens a draft application for one catalog badge,
// pinning the badge's category, level and version at application time.
func (s *Service) CreateBadgeApplication(ctx context.Context, ident auth.Identity, catalogBadgeID uuid.UUID) (models.BadgeApplication, error) {
	badge, err := s.store.GetCatalogBadge(ctx, catalogBadgeID)
	if err != nil {
		return models.BadgeApplication{}, err
	}
	if !badge.Active {
		return models.BadgeApplication{}, models.Validationf("catalog badge %s is retired", catalogBadgeID)
	}
	return s.store.CreateBadgeApplication(ctx, store.BadgeApplicationInput{
		ApplicantID:    ident.UserID,
		CatalogBadgeID: badge.ID,
		BadgeVersion:   badge.Version,
		Category:       badge.Category,
		Level:          badge.Level,
	})
}

func (s *Service) GetBadgeApplication(ctx context.Context, ident auth.Identity, id uuid.UUID) (models.BadgeApplication, error) {
	return s.store.GetBadgeApplication(ctx, id)
}

// SubmitBadgeApplication hands a draft to review. Only the applicant may
// submit; the draft→submitted transition itself is guarded in the store.
func (s *Service) SubmitBadgeApplication(ctx context.Context, ident auth.Identity, id uuid.UUID) (models.BadgeApplication, error) {
	app, err := s.store.GetBadgeApplication(ctx, id)
	if err != nil {
		return models.BadgeApplication{}, err
	}
	if app.ApplicantID != ident.UserID {
		return models.BadgeApplication{}, &models.ForbiddenError{Reason: "only the applicant may submit"}
	}
	return s.store.SubmitBadgeApplication(ctx, id)
}

// ReviewBadgeApplication accepts or rejects a submitted application.
func (s *Service) ReviewBadgeApplication(ctx context.Context, ident auth.Identity, id uuid.UUID, decision models.ReviewDecision, note *string) (models.BadgeApplication, error) {
	if !ident.CanReview() {
		return models.BadgeApplication{}, &models.ForbiddenError{Reason: "reviewer role required"}
	}
	if !decision.Valid() {
		return models.BadgeApplication{}, models.Validationf("unknown review decision %q", decision)
	}
	return s.store.ReviewBadgeApplication(ctx, store.ReviewInput{
		ID:         id,
		ReviewerID: ident.UserID,
		Decision:   decision,
		Note:       note,
	})
}

// --- promotions ---

// CreatePromotionDraft opens a draft promotion, snapshotting the template's
// path and level pair. The template must exist at creation time.
func (s *Service) CreatePromotionDraft(ctx context.Context, ident auth.Identity, path, fromLevel, toLevel string) (models.Promotion, error) {
	if path == "" || fromLevel == "" || toLevel == "" {
		return models.Promotion{}, models.Validationf("path, fromLevel and toLevel are required")
	}
	if _, err := s.store.GetTemplate(ctx, path, fromLevel, toLevel); err != nil {
		return models.Promotion{}, err
	}
	return s.store.CreatePromotion(ctx, store.PromotionInput{
		CreatorID: ident.UserID,
		Path:      path,
		FromLevel: fromLevel,
		ToLevel:   toLevel,
	})
}

func (s *Service) GetPromotion(ctx context.Context, ident auth.Identity, id uuid.UUID) (models.Promotion, error) {
	return s.store.GetPromotion(ctx, id)
}

// AddBadgesToPromotion reserves accepted badge applications to the caller's
// draft promotion. The batch is all-or-nothing: the first conflict or bad
// application state aborts it with nothing attached. Exclusivity is decided
// by the store's uniqueness constraint, never by a prior read here.
func (s *Service) AddBadgesToPromotion(ctx context.Context, ident auth.Identity, promotionID uuid.UUID, badgeApplicationIDs []uuid.UUID) ([]models.Reservation, error) {
	if len(badgeApplicationIDs) == 0 {
		return nil, models.Validationf("at least one badge application id is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(badgeApplicationIDs))
	for _, id := range badgeApplicationIDs {
		if _, dup := seen[id]; dup {
			return nil, models.Validationf("duplicate badge application id %s", id)
		}
		seen[id] = struct{}{}
	}

	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if promo.CreatorID != ident.UserID {
		return nil, &models.ForbiddenError{Reason: "only the promotion creator may attach badges"}
	}
	if promo.Status != models.PromotionDraft {
		return nil, &models.InvalidTransitionError{Entity: "promotion", Current: string(promo.Status)}
	}

	return s.store.CreateReservations(ctx, store.ReservationBatchInput{
		PromotionID:         promotionID,
		BadgeApplicationIDs: badgeApplicationIDs,
		AssignerID:          ident.UserID,
	})
}

// RemoveBadgeFromPromotion detaches an unconsumed reservation from the
// caller's draft promotion.
func (s *Service) RemoveBadgeFromPromotion(ctx context.Context, ident auth.Identity, promotionID, badgeApplicationID uuid.UUID) error {
	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return err
	}
	if promo.CreatorID != ident.UserID {
		return &models.ForbiddenError{Reason: "only the promotion creator may detach badges"}
	}
	if promo.Status != models.PromotionDraft {
		return &models.InvalidTransitionError{Entity: "promotion", Current: string(promo.Status)}
	}
	return s.store.DeleteReservation(ctx, promotionID, badgeApplicationID)
}

// PreviewEligibility evaluates the promotion's reserved badges against its
// template without changing anything. Safe to call at any time.
func (s *Service) PreviewEligibility(ctx context.Context, ident auth.Identity, promotionID uuid.UUID) (eligibility.Result, error) {
	promo, err := s.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return eligibility.Result{}, err
	}
	if promo.CreatorID != ident.UserID && !ident.IsAdmin() {
		return eligibility.Result{}, &models.ForbiddenError{Reason: "only the creator or an admin may view eligibility"}
	}
	return s.evaluate(ctx, promo)
}

func (s *Service) evaluate(ctx context.Context, promo models.Promotion) (eligibility.Result, error) {
	tmpl, err := s.store.GetTemplate(ctx, promo.Path, promo.FromLevel, promo.ToLevel)
	if err != nil {
		return eligibility.Result{}, fmt.Errorf("load template: %w", err)
	}
	reservations, err := s.store.ListReservationsByPromotion(ctx, promo.ID)
	if err != nil {
		return eligibility.Result{}, fmt.Errorf("list reservations: %w", err)
	}
	var badges []models.BadgeApplication
	for _, res := range reservations {
		if res.Consumed {
			continue
		}
		app, err := s.store.GetBadgeApplication(ctx, res.BadgeApplicationID)
		if err != nil {
			return eligibility.Result{}, fmt.Errorf("load reserved badge application %s: %w", res.BadgeApplicationID, err)
		}
		badges = append(badges, app)
	}
	return eligibility.Evaluate(tmpl, badges), nil
}

// SubmitPromotion gates the draft on full eligibility, then applies the
// guarded draft→submitted transition and marks every attached badge
// application used_in_promotion. A racing duplicate submit loses the
// conditional update and receives InvalidTransition.
func (s *Service) SubmitPromotion(ctx context.Context, ident auth.Identity, id uuid.UUID) (models.Promotion, error) {
	promo, err := s.store.GetPromotion(ctx, id)
	if err != nil {
		return models.Promotion{}, err
	}
	if promo.CreatorID != ident.UserID {
		return models.Promotion{}, &models.ForbiddenError{Reason: "only the promotion creator may submit"}
	}

	result, err := s.evaluate(ctx, promo)
	if err != nil {
		return models.Promotion{}, err
	}
	if !result.Valid {
		return models.Promotion{}, &models.EligibilityFailedError{Missing: result.Missing}
	}

	submitted, err := s.store.SubmitPromotion(ctx, id)
	if err != nil {
		return models.Promotion{}, err
	}

	// The status change above is authoritative. Marking the attached badge
	// applications is applied immediately after; a miss is logged, not
	// rolled back.
	reservations, err := s.store.ListReservationsByPromotion(ctx, id)
	if err != nil {
		s.logger.Warn("submit promotion: listing reservations for mark-used failed",
			zap.String("promotion_id", id.String()), zap.Error(err))
		return submitted, nil
	}
	for _, res := range reservations {
		if err := s.store.MarkBadgeApplicationUsed(ctx, res.BadgeApplicationID); err != nil {
			s.logger.Warn("submit promotion: marking badge application used failed",
				zap.String("promotion_id", id.String()),
				zap.String("badge_application_id", res.BadgeApplicationID.String()),
				zap.Error(err))
		}
	}
	return submitted, nil
}

// ApprovePromotion applies the guarded submitted→approved transition and
// permanently consumes the promotion's reservations.
func (s *Service) ApprovePromotion(ctx context.Context, ident auth.Identity, id uuid.UUID) (models.Promotion, error) {
	if !ident.IsAdmin() {
		return models.Promotion{}, &models.ForbiddenError{Reason: "admin role required"}
	}
	promo, err := s.store.ApprovePromotion(ctx, id, ident.UserID)
	if err != nil {
		return models.Promotion{}, err
	}
	if _, err := s.store.ConsumeReservations(ctx, id); err != nil {
		s.logger.Warn("approve promotion: consuming reservations failed",
			zap.String("promotion_id", id.String()), zap.Error(err))
	}
	return promo, nil
}

// RejectPromotion applies the guarded submitted→rejected transition, then
// releases every reservation and reverts the linked badge applications to
// accepted so they are reservable again.
func (s *Service) RejectPromotion(ctx context.Context, ident auth.Identity, id uuid.UUID, reason string) (models.Promotion, error) {
	if !ident.IsAdmin() {
		return models.Promotion{}, &models.ForbiddenError{Reason: "admin role required"}
	}
	if len(reason) == 0 || len(reason) > maxRejectReasonLen {
		return models.Promotion{}, models.Validationf("reject reason must be 1-%d characters", maxRejectReasonLen)
	}
	promo, err := s.store.RejectPromotion(ctx, id, ident.UserID, reason)
	if err != nil {
		return models.Promotion{}, err
	}

	appIDs, err := s.store.ReleaseReservations(ctx, id)
	if err != nil {
		s.logger.Warn("reject promotion: releasing reservations failed",
			zap.String("promotion_id", id.String()), zap.Error(err))
		return promo, nil
	}
	for _, appID := range appIDs {
		if err := s.store.RevertBadgeApplicationUsed(ctx, appID); err != nil {
			s.logger.Warn("reject promotion: reverting badge application failed",
				zap.String("promotion_id", id.String()),
				zap.String("badge_application_id", appID.String()),
				zap.Error(err))
		}
	}
	return promo, nil
}
