package models

// BadgeCategory classifies a catalog badge.
type BadgeCategory string

const (
	CategoryTechnical      BadgeCategory = "technical"
	CategoryOrganizational BadgeCategory = "organizational"
	CategorySoftskilled    BadgeCategory = "softskilled"

	// CategoryAny is only valid inside requirement-template rules; it matches
	// badges of every category at the rule's level.
	CategoryAny BadgeCategory = "any"
)

// Valid reports whether c names a real catalog category.
func (c BadgeCategory) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryOrganizational, CategorySoftskilled:
		return true
	}
	return false
}

// BadgeLevel grades a catalog badge.
type BadgeLevel string

const (
	LevelGold   BadgeLevel = "gold"
	LevelSilver BadgeLevel = "silver"
	LevelBronze BadgeLevel = "bronze"
)

func (l BadgeLevel) Valid() bool {
	switch l {
	case LevelGold, LevelSilver, LevelBronze:
		return true
	}
	return false
}

// BadgeApplicationStatus is the badge application's lifecycle state.
type BadgeApplicationStatus string

const (
	BadgeApplicationDraft     BadgeApplicationStatus = "draft"
	BadgeApplicationSubmitted BadgeApplicationStatus = "submitted"
	BadgeApplicationAccepted  BadgeApplicationStatus = "accepted"
	BadgeApplicationRejected  BadgeApplicationStatus = "rejected"
	BadgeApplicationUsed      BadgeApplicationStatus = "used_in_promotion"
)

// badgeApplicationTransitions is the full transition table. The
// accepted ⇄ used_in_promotion pair is driven only by the promotion
// workflow, never directly by a user.
var badgeApplicationTransitions = map[BadgeApplicationStatus][]BadgeApplicationStatus{
	BadgeApplicationDraft:     {BadgeApplicationSubmitted},
	BadgeApplicationSubmitted: {BadgeApplicationAccepted, BadgeApplicationRejected},
	BadgeApplicationAccepted:  {BadgeApplicationUsed},
	BadgeApplicationUsed:      {BadgeApplicationAccepted},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s BadgeApplicationStatus) CanTransitionTo(next BadgeApplicationStatus) bool {
	for _, allowed := range badgeApplicationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BadgeApplicationStatus) Valid() bool {
	switch s {
	case BadgeApplicationDraft, BadgeApplicationSubmitted, BadgeApplicationAccepted,
		BadgeApplicationRejected, BadgeApplicationUsed:
		return true
	}
	return false
}

// PromotionStatus is the promotion's lifecycle state. Approved and rejected
// are terminal.
type PromotionStatus string

const (
	PromotionDraft     PromotionStatus = "draft"
	PromotionSubmitted PromotionStatus = "submitted"
	PromotionApproved  PromotionStatus = "approved"
	PromotionRejected  PromotionStatus = "rejected"
)

var promotionTransitions = map[PromotionStatus][]PromotionStatus{
	PromotionDraft:     {PromotionSubmitted},
	PromotionSubmitted: {PromotionApproved, PromotionRejected},
}

func (s PromotionStatus) CanTransitionTo(next PromotionStatus) bool {
	for _, allowed := range promotionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PromotionStatus) Valid() bool {
	switch s {
	case PromotionDraft, PromotionSubmitted, PromotionApproved, PromotionRejected:
		return true
	}
	return false
}

// ReviewDecision is the reviewer's verdict on a submitted badge application.
type ReviewDecision string

const (
	DecisionAccepted ReviewDecision = "accepted"
	DecisionRejected ReviewDecision = "rejected"
)

func (d ReviewDecision) Valid() bool {
	return d == DecisionAccepted || d == DecisionRejected
}

// Status returns the badge application status a decision resolves to.
func (d ReviewDecision) Status() BadgeApplicationStatus {
	if d == DecisionAccepted {
		return BadgeApplicationAccepted
	}
	return BadgeApplicationRejected
}
