package models

import (
	"time"

	"github.com/google/uuid"
)

// CatalogBadge is the catalog definition of a credential. Read-only to the
// workflow engine; catalog CRUD lives elsewhere.
type CatalogBadge struct {
	ID       uuid.UUID     `json:"id"`
	Name     string        `json:"name"`
	Category BadgeCategory `json:"category"`
	Level    BadgeLevel    `json:"level"`
	Version  int           `json:"version"`
	Active   bool          `json:"active"`
}

// BadgeApplication is an applicant's request for one catalog badge.
// Category, Level and BadgeVersion are snapshotted from the catalog at
// creation time so later catalog edits cannot change what was applied for.
type BadgeApplication struct {
	ID             uuid.UUID              `json:"id"`
	ApplicantID    string                 `json:"applicantId"`
	CatalogBadgeID uuid.UUID              `json:"catalogBadgeId"`
	BadgeVersion   int                    `json:"badgeVersion"`
	Category       BadgeCategory          `json:"category"`
	Level          BadgeLevel             `json:"level"`
	Status         BadgeApplicationStatus `json:"status"`
	SubmittedAt    *time.Time             `json:"submittedAt,omitempty"`
	ReviewerID     *string                `json:"reviewerId,omitempty"`
	ReviewedAt     *time.Time             `json:"reviewedAt,omitempty"`
	ReviewNote     *string                `json:"reviewNote,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// Promotion bundles reserved badge applications toward one level step along
// a career path. Path/FromLevel/ToLevel snapshot the chosen template.
type Promotion struct {
	ID           uuid.UUID       `json:"id"`
	CreatorID    string          `json:"creatorId"`
	Path         string          `json:"path"`
	FromLevel    string          `json:"fromLevel"`
	ToLevel      string          `json:"toLevel"`
	Status       PromotionStatus `json:"status"`
	SubmittedAt  *time.Time      `json:"submittedAt,omitempty"`
	ApprovedBy   *string         `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time      `json:"approvedAt,omitempty"`
	RejectedBy   *string         `json:"rejectedBy,omitempty"`
	RejectedAt   *time.Time      `json:"rejectedAt,omitempty"`
	RejectReason *string         `json:"rejectReason,omitempty"`
	Executed     bool            `json:"executed"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Reservation exclusively attaches one accepted badge application to one
// draft promotion. At most one unconsumed reservation may exist per badge
// application at any instant; the store enforces that, not callers.
type Reservation struct {
	ID                 uuid.UUID `json:"id"`
	PromotionID        uuid.UUID `json:"promotionId"`
	BadgeApplicationID uuid.UUID `json:"badgeApplicationId"`
	Consumed           bool      `json:"consumed"`
	AssignerID         string    `json:"assignerId"`
	AssignedAt         time.Time `json:"assignedAt"`
}

// RequirementRule demands Count badges of exactly (Category, Level).
// Category may be CategoryAny, which matches every category at that level.
type RequirementRule struct {
	Category BadgeCategory `json:"category"`
	Level    BadgeLevel    `json:"level"`
	Count    int           `json:"count"`
}

// RequirementTemplate specifies the badge set one path+level transition
// requires. Rules are ordered; order matters for allocation reporting only.
type RequirementTemplate struct {
	ID        uuid.UUID         `json:"id"`
	Path      string            `json:"path"`
	FromLevel string            `json:"fromLevel"`
	ToLevel   string            `json:"toLevel"`
	Rules     []RequirementRule `json:"rules"`
}
