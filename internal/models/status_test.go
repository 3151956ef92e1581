package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meritflow/meritflow/internal/models"
)

func TestBadgeApplicationTransitions(t *testing.T) {
	cases := []struct {
		from    models.BadgeApplicationStatus
		to      models.BadgeApplicationStatus
		allowed bool
	}{
		{models.BadgeApplicationDraft, models.BadgeApplicationSubmitted, true},
		{models.BadgeApplicationSubmitted, models.BadgeApplicationAccepted, true},
		{models.BadgeApplicationSubmitted, models.BadgeApplicationRejected, true},
		{models.BadgeApplicationAccepted, models.BadgeApplicationUsed, true},
		{models.BadgeApplicationUsed, models.BadgeApplicationAccepted, true},

		{models.BadgeApplicationDraft, models.BadgeApplicationAccepted, false},
		{models.BadgeApplicationDraft, models.BadgeApplicationUsed, false},
		{models.BadgeApplicationRejected, models.BadgeApplicationSubmitted, false},
		{models.BadgeApplicationAccepted, models.BadgeApplicationSubmitted, false},
		{models.BadgeApplicationUsed, models.BadgeApplicationRejected, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPromotionTransitions(t *testing.T) {
	cases := []struct {
		from    models.PromotionStatus
		to      models.PromotionStatus
		allowed bool
	}{
		{models.PromotionDraft, models.PromotionSubmitted, true},
		{models.PromotionSubmitted, models.PromotionApproved, true},
		{models.PromotionSubmitted, models.PromotionRejected, true},

		{models.PromotionDraft, models.PromotionApproved, false},
		{models.PromotionDraft, models.PromotionRejected, false},
		// Approved and rejected are terminal.
		{models.PromotionApproved, models.PromotionSubmitted, false},
		{models.PromotionApproved, models.PromotionRejected, false},
		{models.PromotionRejected, models.PromotionDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestReviewDecision(t *testing.T) {
	assert.True(t, models.DecisionAccepted.Valid())
	assert.True(t, models.DecisionRejected.Valid())
	assert.False(t, models.ReviewDecision("maybe").Valid())

	assert.Equal(t, models.BadgeApplicationAccepted, models.DecisionAccepted.Status())
	assert.Equal(t, models.BadgeApplicationRejected, models.DecisionRejected.Status())
}

func TestCategoryAndLevelValidity(t *testing.T) {
	assert.True(t, models.CategoryTechnical.Valid())
	// "any" is a rule matcher, not a catalog category.
	assert.False(t, models.CategoryAny.Valid())
	assert.False(t, models.BadgeCategory("magical").Valid())

	assert.True(t, models.LevelGold.Valid())
	assert.False(t, models.BadgeLevel("platinum").Valid())
}
