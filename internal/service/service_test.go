package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meritflow/meritflow/internal/auth"
	"github.com/meritflow/meritflow/internal/models"
	"github.com/meritflow/meritflow/internal/service"
	"github.com/meritflow/meritflow/internal/store"
)

var (
	alice    = auth.Identity{UserID: "alice", Role: auth.RoleEmployee}
	bob      = auth.Identity{UserID: "bob", Role: auth.RoleEmployee}
	reviewer = auth.Identity{UserID: "rev-1", Role: auth.RoleReviewer}
	admin    = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
)

type fixture struct {
	store *store.MemoryStore
	svc   *service.Service

	goldTechnical models.CatalogBadge
	goldOrg       models.CatalogBadge
	silverTech    models.CatalogBadge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	f := &fixture{
		store: mem,
		svc:   service.New(mem, zap.NewNop()),
	}
	f.goldTechnical = mem.SeedCatalogBadge(models.CatalogBadge{
		Name: "Go Expert", Category: models.CategoryTechnical, Level: models.LevelGold, Version: 3, Active: true,
	})
	f.goldOrg = mem.SeedCatalogBadge(models.CatalogBadge{
		Name: "Mentor", Category: models.CategoryOrganizational, Level: models.LevelGold, Version: 1, Active: true,
	})
	f.silverTech = mem.SeedCatalogBadge(models.CatalogBadge{
		Name: "SQL Practitioner", Category: models.CategoryTechnical, Level: models.LevelSilver, Version: 2, Active: true,
	})
	return f
}

func (f *fixture) seedTemplate(t *testing.T, rules ...models.RequirementRule) {
	t.Helper()
	f.store.SeedTemplate(models.RequirementTemplate{
		Path: "engineering", FromLevel: "junior", ToLevel: "senior", Rules: rules,
	})
}

// acceptedBadge walks one badge application through the full review flow.
func (f *fixture) acceptedBadge(t *testing.T, applicant auth.Identity, catalog models.CatalogBadge) models.BadgeApplication {
	t.Helper()
	ctx := context.Background()
	app, err := f.svc.CreateBadgeApplication(ctx, applicant, catalog.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitBadgeApplication(ctx, applicant, app.ID)
	require.NoError(t, err)
	app, err = f.svc.ReviewBadgeApplication(ctx, reviewer, app.ID, models.DecisionAccepted, nil)
	require.NoError(t, err)
	return app
}

func (f *fixture) draftWithBadges(t *testing.T, creator auth.Identity, badges ...models.BadgeApplication) models.Promotion {
	t.Helper()
	ctx := context.Background()
	promo, err := f.svc.CreatePromotionDraft(ctx, creator, "engineering", "junior", "senior")
	require.NoError(t, err)
	if len(badges) > 0 {
		ids := make([]uuid.UUID, len(badges))
		for i, b := range badges {
			ids[i] = b.ID
		}
		_, err = f.svc.AddBadgesToPromotion(ctx, creator, promo.ID, ids)
		require.NoError(t, err)
	}
	return promo
}

func TestBadgeApplication_SnapshotsCatalogAtCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app, err := f.svc.CreateBadgeApplication(ctx, alice, f.goldTechnical.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BadgeApplicationDraft, app.Status)
	assert.Equal(t, models.CategoryTechnical, app.Category)
	assert.Equal(t, models.LevelGold, app.Level)
	assert.Equal(t, 3, app.BadgeVersion)
}

func TestBadgeApplication_RetiredCatalogBadgeRejected(t *testing.T) {
	f := newFixture(t)
	retired := f.store.SeedCatalogBadge(models.CatalogBadge{
		Name: "Legacy", Category: models.CategoryTechnical, Level: models.LevelBronze, Active: false,
	})

	_, err := f.svc.CreateBadgeApplication(context.Background(), alice, retired.ID)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestBadgeApplication_OnlyApplicantMaySubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, err := f.svc.CreateBadgeApplication(ctx, alice, f.goldTechnical.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitBadgeApplication(ctx, bob, app.ID)
	var forbiddenErr *models.ForbiddenError
	assert.ErrorAs(t, err, &forbiddenErr)

	// State unchanged; the owner can still submit.
	_, err = f.svc.SubmitBadgeApplication(ctx, alice, app.ID)
	assert.NoError(t, err)
}

func TestBadgeApplication_ReviewRequiresReviewerRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, err := f.svc.CreateBadgeApplication(ctx, alice, f.goldTechnical.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitBadgeApplication(ctx, alice, app.ID)
	require.NoError(t, err)

	_, err = f.svc.ReviewBadgeApplication(ctx, bob, app.ID, models.DecisionAccepted, nil)
	var forbiddenErr *models.ForbiddenError
	assert.ErrorAs(t, err, &forbiddenErr)

	_, err = f.svc.ReviewBadgeApplication(ctx, reviewer, app.ID, models.ReviewDecision("maybe"), nil)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreatePromotionDraft_UnknownTemplate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePromotionDraft(context.Background(), alice, "engineering", "junior", "principal")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddBadgesToPromotion_Guards(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice)

	_, err := f.svc.AddBadgesToPromotion(ctx, alice, promo.ID, nil)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = f.svc.AddBadgesToPromotion(ctx, alice, promo.ID, []uuid.UUID{badge.ID, badge.ID})
	assert.ErrorAs(t, err, &validationErr)

	_, err = f.svc.AddBadgesToPromotion(ctx, bob, promo.ID, []uuid.UUID{badge.ID})
	var forbiddenErr *models.ForbiddenError
	assert.ErrorAs(t, err, &forbiddenErr)
}

func TestAddBadgesToPromotion_ConflictNamesOwningPromotion(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)

	first := f.draftWithBadges(t, alice, badge)
	second := f.draftWithBadges(t, alice)

	_, err := f.svc.AddBadgesToPromotion(ctx, alice, second.ID, []uuid.UUID{badge.ID})
	var conflict *models.ReservationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, badge.ID, conflict.BadgeApplicationID)
	assert.Equal(t, first.ID, conflict.OwningPromotionID)
}

func TestRemoveBadgeFromPromotion_FreesReservation(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, badge)

	require.NoError(t, f.svc.RemoveBadgeFromPromotion(ctx, alice, promo.ID, badge.ID))

	// Reservable again, by a different promotion even.
	other := f.draftWithBadges(t, alice)
	_, err := f.svc.AddBadgesToPromotion(ctx, alice, other.ID, []uuid.UUID{badge.ID})
	assert.NoError(t, err)
}

func TestSubmitPromotion_EligibilityGate(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelSilver, Count: 6})
	ctx := context.Background()

	var badges []models.BadgeApplication
	for i := 0; i < 4; i++ {
		badges = append(badges, f.acceptedBadge(t, alice, f.silverTech))
	}
	promo := f.draftWithBadges(t, alice, badges...)

	_, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	var eligErr *models.EligibilityFailedError
	require.ErrorAs(t, err, &eligErr)
	assert.Equal(t, []models.RuleShortfall{
		{Category: models.CategoryTechnical, Level: models.LevelSilver, Missing: 2},
	}, eligErr.Missing)

	// Promotion unchanged.
	current, err := f.svc.GetPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromotionDraft, current.Status)
}

func TestSubmitPromotion_MarksBadgesUsedAndBlocksDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, badge)

	submitted, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromotionSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	app, err := f.svc.GetBadgeApplication(ctx, alice, badge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BadgeApplicationUsed, app.Status)

	// A duplicate submit loses the guard.
	_, err = f.svc.SubmitPromotion(ctx, alice, promo.ID)
	var transitionErr *models.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestPreviewEligibility_LiveOnDraft(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t,
		models.RequirementRule{Category: models.CategoryAny, Level: models.LevelGold, Count: 1},
		models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1},
	)
	ctx := context.Background()
	tech := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, tech)

	result, err := f.svc.PreviewEligibility(ctx, alice, promo.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []models.RuleShortfall{
		{Category: models.CategoryAny, Level: models.LevelGold, Missing: 1},
	}, result.Missing)

	org := f.acceptedBadge(t, alice, f.goldOrg)
	_, err = f.svc.AddBadgesToPromotion(ctx, alice, promo.ID, []uuid.UUID{org.ID})
	require.NoError(t, err)

	result, err = f.svc.PreviewEligibility(ctx, alice, promo.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	// Only the creator or an admin may look.
	_, err = f.svc.PreviewEligibility(ctx, bob, promo.ID)
	var forbiddenErr *models.ForbiddenError
	assert.ErrorAs(t, err, &forbiddenErr)
	_, err = f.svc.PreviewEligibility(ctx, admin, promo.ID)
	assert.NoError(t, err)
}

func TestApprovePromotion_ConsumesReservationsPermanently(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelSilver, Count: 3})
	ctx := context.Background()

	var badges []models.BadgeApplication
	for i := 0; i < 3; i++ {
		badges = append(badges, f.acceptedBadge(t, alice, f.silverTech))
	}
	promo := f.draftWithBadges(t, alice, badges...)
	_, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)

	_, err = f.svc.ApprovePromotion(ctx, alice, promo.ID)
	var forbiddenErr *models.ForbiddenError
	require.ErrorAs(t, err, &forbiddenErr)

	approved, err := f.svc.ApprovePromotion(ctx, admin, promo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromotionApproved, approved.Status)
	assert.True(t, approved.Executed)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, admin.UserID, *approved.ApprovedBy)

	reservations, err := f.store.ListReservationsByPromotion(ctx, promo.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 3)
	for _, res := range reservations {
		assert.True(t, res.Consumed)
	}

	// The consumed badge applications can never be reserved elsewhere.
	other := f.draftWithBadges(t, alice)
	_, err = f.svc.AddBadgesToPromotion(ctx, alice, other.ID, []uuid.UUID{badges[0].ID})
	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, string(models.BadgeApplicationUsed), transitionErr.Current)
}

func TestRejectPromotion_ReleasesAndReverts(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelSilver, Count: 2})
	ctx := context.Background()

	badges := []models.BadgeApplication{
		f.acceptedBadge(t, alice, f.silverTech),
		f.acceptedBadge(t, alice, f.silverTech),
	}
	promo := f.draftWithBadges(t, alice, badges...)
	_, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)

	rejected, err := f.svc.RejectPromotion(ctx, admin, promo.ID, "insufficient evidence")
	require.NoError(t, err)
	assert.Equal(t, models.PromotionRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "insufficient evidence", *rejected.RejectReason)
	assert.False(t, rejected.Executed)

	reservations, err := f.store.ListReservationsByPromotion(ctx, promo.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	for _, b := range badges {
		app, err := f.svc.GetBadgeApplication(ctx, alice, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BadgeApplicationAccepted, app.Status)
	}

	// Released badges are reservable again.
	other := f.draftWithBadges(t, alice)
	_, err = f.svc.AddBadgesToPromotion(ctx, alice, other.ID, []uuid.UUID{badges[0].ID})
	assert.NoError(t, err)
}

func TestRejectPromotion_ReasonBounds(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, badge)
	_, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)

	var validationErr *models.ValidationError
	_, err = f.svc.RejectPromotion(ctx, admin, promo.ID, "")
	assert.ErrorAs(t, err, &validationErr)

	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.RejectPromotion(ctx, admin, promo.ID, string(long))
	assert.ErrorAs(t, err, &validationErr)

	// Still submitted after the rejected inputs.
	current, err := f.svc.GetPromotion(ctx, admin, promo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromotionSubmitted, current.Status)
}

func TestConcurrentApproveAndReject_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, badge)
	_, err := f.svc.SubmitPromotion(ctx, alice, promo.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.ApprovePromotion(ctx, admin, promo.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.RejectPromotion(ctx, admin, promo.ID, "duplicate request")
	}()
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var transitionErr *models.InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr)
		losses++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	final, err := f.svc.GetPromotion(ctx, admin, promo.ID)
	require.NoError(t, err)
	if final.Status == models.PromotionApproved {
		// Approval won: every reservation is consumed, the badge stays used.
		reservations, err := f.store.ListReservationsByPromotion(ctx, promo.ID)
		require.NoError(t, err)
		require.Len(t, reservations, 1)
		assert.True(t, reservations[0].Consumed)
	} else {
		// Rejection won: reservation gone, badge accepted again.
		reservations, err := f.store.ListReservationsByPromotion(ctx, promo.ID)
		require.NoError(t, err)
		assert.Empty(t, reservations)
		app, err := f.svc.GetBadgeApplication(ctx, alice, badge.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BadgeApplicationAccepted, app.Status)
	}
}

func TestSubmitPromotion_OnlyCreator(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RequirementRule{Category: models.CategoryTechnical, Level: models.LevelGold, Count: 1})
	ctx := context.Background()
	badge := f.acceptedBadge(t, alice, f.goldTechnical)
	promo := f.draftWithBadges(t, alice, badge)

	_, err := f.svc.SubmitPromotion(ctx, bob, promo.ID)
	var forbiddenErr *models.ForbiddenError
	assert.ErrorAs(t, err, &forbiddenErr)
}
