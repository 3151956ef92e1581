// Package store persists the workflow entities. All correctness-critical
// invariants live here: status transitions are conditional updates guarded
// by the expected current state, and reservation exclusivity is a
// predicate-scoped unique index, never a read followed by a write.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/meritflow/meritflow/internal/models"
)

// Store is the persistence surface consumed by the orchestrator.
//
// Transition methods apply compare-and-swap updates: they fail with
// *models.InvalidTransitionError carrying the actual current state when the
// guard loses, and models.ErrNotFound when the row does not exist. Losing a
// race is therefore a distinct, non-destructive outcome and safe to retry.
type Store interface {
	// Badge applications.
	CreateBadgeApplication(ctx context.Context, in BadgeApplicationInput) (models.BadgeApplication, error)
	GetBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error)
	// SubmitBadgeApplication moves draft -> submitted and stamps submitted_at.
	SubmitBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error)
	// ReviewBadgeApplication moves submitted -> accepted|rejected and stamps
	// the reviewer, timestamp and note.
	ReviewBadgeApplication(ctx context.Context, in ReviewInput) (models.BadgeApplication, error)
	// MarkBadgeApplicationUsed moves accepted -> used_in_promotion. Driven
	// only by the promotion workflow.
	MarkBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error
	// RevertBadgeApplicationUsed moves used_in_promotion -> accepted.
	RevertBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error

	// Promotions.
	CreatePromotion(ctx context.Context, in PromotionInput) (models.Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error)
	// SubmitPromotion moves draft -> submitted and stamps submitted_at.
	SubmitPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error)
	// ApprovePromotion moves submitted -> approved, stamps the approver and
	// sets executed=true.
	ApprovePromotion(ctx context.Context, id uuid.UUID, adminID string) (models.Promotion, error)
	// RejectPromotion moves submitted -> rejected, stamps the rejecter and
	// stores the reason.
	RejectPromotion(ctx context.Context, id uuid.UUID, adminID, reason string) (models.Promotion, error)

	// Reservations. CreateReservations is all-or-nothing: the first conflict
	// or bad badge-application state aborts the whole batch with nothing
	// inserted. A uniqueness violation is resolved into a
	// *models.ReservationConflictError naming the owning promotion.
	CreateReservations(ctx context.Context, in ReservationBatchInput) ([]models.Reservation, error)
	// DeleteReservation removes one unconsumed reservation from a promotion.
	DeleteReservation(ctx context.Context, promotionID, badgeApplicationID uuid.UUID) error
	ListReservationsByPromotion(ctx context.Context, promotionID uuid.UUID) ([]models.Reservation, error)
	// ConsumeReservations irreversibly marks every reservation of the
	// promotion consumed, returning the number affected.
	ConsumeReservations(ctx context.Context, promotionID uuid.UUID) (int, error)
	// ReleaseReservations deletes every reservation of the promotion and
	// returns the badge application ids that were linked, so callers can
	// revert them.
	ReleaseReservations(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)

	// Read-only collaborators.
	GetCatalogBadge(ctx context.Context, id uuid.UUID) (models.CatalogBadge, error)
	GetTemplate(ctx context.Context, path, fromLevel, toLevel string) (models.RequirementTemplate, error)

	Ping(ctx context.Context) error
}

type BadgeApplicationInput struct {
	ID             uuid.UUID
	ApplicantID    string
	CatalogBadgeID uuid.UUID
	BadgeVersion   int
	Category       models.BadgeCategory
	Level          models.BadgeLevel
}

type ReviewInput struct {
	ID         uuid.UUID
	ReviewerID string
	Decision   models.ReviewDecision
	Note       *string
}

type PromotionInput struct {
	ID        uuid.UUID
	CreatorID string
	Path      string
	FromLevel string
	ToLevel   string
}

type ReservationBatchInput struct {
	PromotionID         uuid.UUID
	BadgeApplicationIDs []uuid.UUID
	AssignerID          string
}
